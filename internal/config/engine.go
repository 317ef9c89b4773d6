package config

import (
	"fmt"
	"strings"
)

// EngineConfig carries the merchant-level inputs of the geo and customer predicates.
type EngineConfig struct {
	// HomeCountry is the ISO 3166-1 alpha-2 code used by international_only.
	HomeCountry string `envconfig:"HOME_COUNTRY" default:"US"`

	SanctionedCountries []string `envconfig:"SANCTIONED_COUNTRIES" default:"CU,IR,KP,SY"`
	HighRiskCountries   []string `envconfig:"HIGH_RISK_COUNTRIES" default:"AF,BY,MM,NG,VE,YE"`

	// NewCustomerMaxAgeDays: accounts younger than this count as new customers.
	NewCustomerMaxAgeDays int `envconfig:"NEW_CUSTOMER_MAX_AGE_DAYS" default:"30" validate:"min=1"`
}

// Validate checks every configured country code.
func (c *EngineConfig) Validate() error {
	if err := validateCountryCode(c.HomeCountry, "engine home country"); err != nil {
		return err
	}
	for _, code := range c.SanctionedCountries {
		if err := validateCountryCode(code, "engine sanctioned country"); err != nil {
			return err
		}
	}
	for _, code := range c.HighRiskCountries {
		if err := validateCountryCode(code, "engine high-risk country"); err != nil {
			return err
		}
	}
	return nil
}

// validateCountryCode checks for a two-letter code.
func validateCountryCode(code, context string) error {
	code = strings.TrimSpace(code)
	if len(code) != 2 {
		return fmt.Errorf("%s must be a two-letter ISO code, got %q", context, code)
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return fmt.Errorf("%s must be a two-letter ISO code, got %q", context, code)
		}
	}
	return nil
}
