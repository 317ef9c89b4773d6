package ruleengine

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RuleConditions groups the six independent condition categories.
// A nil category imposes no constraint; present categories are AND-ed.
type RuleConditions struct {
	Geo           *GeoConditions           `json:"geo,omitempty"`
	Amount        *AmountConditions        `json:"amount,omitempty"`
	Time          *TimeConditions          `json:"time,omitempty"`
	Customer      *CustomerConditions      `json:"customer,omitempty"`
	Product       *ProductConditions       `json:"product,omitempty"`
	PaymentMethod *PaymentMethodConditions `json:"payment_method,omitempty"`
}

// category is implemented by every condition category.
type category interface {
	matches(tx *TransactionContext, env *environment) bool
}

// categories returns the present categories in their fixed evaluation order.
func (c *RuleConditions) categories() []category {
	out := make([]category, 0, 6)
	if c.Geo != nil {
		out = append(out, c.Geo)
	}
	if c.Amount != nil {
		out = append(out, c.Amount)
	}
	if c.Time != nil {
		out = append(out, c.Time)
	}
	if c.Customer != nil {
		out = append(out, c.Customer)
	}
	if c.Product != nil {
		out = append(out, c.Product)
	}
	if c.PaymentMethod != nil {
		out = append(out, c.PaymentMethod)
	}
	return out
}

type GeoConditions struct {
	// Countries and States are matched against the billing address.
	Countries        []string `json:"countries,omitempty"`
	ExcludeCountries []string `json:"exclude_countries,omitempty"`
	States           []string `json:"states,omitempty"`
	ExcludeStates    []string `json:"exclude_states,omitempty"`

	ShippingCountries []string `json:"shipping_countries,omitempty"`
	IPCountries       []string `json:"ip_countries,omitempty"`

	// SanctionedCountries and HighRiskCountries match when the billing or
	// IP-derived country belongs to the configured list.
	SanctionedCountries bool `json:"sanctioned_countries,omitempty"`
	HighRiskCountries   bool `json:"high_risk_countries,omitempty"`

	EUOnly  bool `json:"eu_only,omitempty"`
	EEAOnly bool `json:"eea_only,omitempty"`

	// InternationalOnly fails when the billing country is the merchant's home country.
	InternationalOnly bool `json:"international_only,omitempty"`
}

func (g *GeoConditions) matches(tx *TransactionContext, env *environment) bool {
	billing := normalizeCode(tx.Geo.BillingCountry)
	ipCountry := normalizeCode(tx.Geo.IPCountry)

	if !includes(g.Countries, tx.Geo.BillingCountry, true) ||
		excludes(g.ExcludeCountries, tx.Geo.BillingCountry, true) {
		return false
	}
	if !includes(g.States, tx.Geo.BillingState, true) ||
		excludes(g.ExcludeStates, tx.Geo.BillingState, true) {
		return false
	}
	if !includes(g.ShippingCountries, tx.Geo.ShippingCountry, true) {
		return false
	}
	if !includes(g.IPCountries, tx.Geo.IPCountry, true) {
		return false
	}

	if g.SanctionedCountries && !env.sanctioned.hasAny(billing, ipCountry) {
		return false
	}
	if g.HighRiskCountries && !env.highRisk.hasAny(billing, ipCountry) {
		return false
	}
	if g.EUOnly && !euCountries.has(billing) {
		return false
	}
	if g.EEAOnly && !eeaCountries.has(billing) {
		return false
	}
	if g.InternationalOnly && (billing == "" || billing == env.homeCountry) {
		return false
	}
	return true
}

type AmountConditions struct {
	Min *decimal.Decimal `json:"min,omitempty"`
	Max *decimal.Decimal `json:"max,omitempty"`

	Currencies        []string `json:"currencies,omitempty"`
	ExcludeCurrencies []string `json:"exclude_currencies,omitempty"`
}

func (a *AmountConditions) matches(tx *TransactionContext, _ *environment) bool {
	if a.Min != nil && tx.Amount.LessThan(*a.Min) {
		return false
	}
	if a.Max != nil && tx.Amount.GreaterThan(*a.Max) {
		return false
	}
	return includes(a.Currencies, tx.Currency, true) && !excludes(a.ExcludeCurrencies, tx.Currency, true)
}

type CustomerConditions struct {
	Types        []string `json:"types,omitempty"`
	ExcludeTypes []string `json:"exclude_types,omitempty"`

	// Segments matches when the customer belongs to at least one listed segment.
	Segments        []string `json:"segments,omitempty"`
	ExcludeSegments []string `json:"exclude_segments,omitempty"`

	MinAccountAgeDays *int `json:"min_account_age_days,omitempty"`
	MaxAccountAgeDays *int `json:"max_account_age_days,omitempty"`

	MinLifetimeValue *decimal.Decimal `json:"min_lifetime_value,omitempty"`
	MaxLifetimeValue *decimal.Decimal `json:"max_lifetime_value,omitempty"`

	MinRiskScore *float64 `json:"min_risk_score,omitempty"`
	MaxRiskScore *float64 `json:"max_risk_score,omitempty"`

	IsNewCustomer *bool `json:"is_new_customer,omitempty"`
}

func (c *CustomerConditions) matches(tx *TransactionContext, env *environment) bool {
	cu := &tx.Customer

	if !includes(c.Types, cu.Type, false) || excludes(c.ExcludeTypes, cu.Type, false) {
		return false
	}
	if len(c.Segments) > 0 && !anyIncluded(c.Segments, cu.Segments) {
		return false
	}
	if len(c.ExcludeSegments) > 0 && anyIncluded(c.ExcludeSegments, cu.Segments) {
		return false
	}

	if c.MinAccountAgeDays != nil && cu.AccountAgeDays < *c.MinAccountAgeDays {
		return false
	}
	if c.MaxAccountAgeDays != nil && cu.AccountAgeDays > *c.MaxAccountAgeDays {
		return false
	}
	if c.MinLifetimeValue != nil && cu.LifetimeValue.LessThan(*c.MinLifetimeValue) {
		return false
	}
	if c.MaxLifetimeValue != nil && cu.LifetimeValue.GreaterThan(*c.MaxLifetimeValue) {
		return false
	}
	if c.MinRiskScore != nil && cu.RiskScore < *c.MinRiskScore {
		return false
	}
	if c.MaxRiskScore != nil && cu.RiskScore > *c.MaxRiskScore {
		return false
	}

	if c.IsNewCustomer != nil {
		isNew := cu.AccountAgeDays < env.newCustomerMaxAgeDays
		if isNew != *c.IsNewCustomer {
			return false
		}
	}
	return true
}

type ProductConditions struct {
	SKUs              []string `json:"skus,omitempty"`
	ExcludeSKUs       []string `json:"exclude_skus,omitempty"`
	Categories        []string `json:"categories,omitempty"`
	ExcludeCategories []string `json:"exclude_categories,omitempty"`
	IsSubscription    *bool    `json:"is_subscription,omitempty"`
}

func (p *ProductConditions) matches(tx *TransactionContext, _ *environment) bool {
	pr := &tx.Product

	if len(p.SKUs) > 0 && !anyIncluded(p.SKUs, pr.SKUs) {
		return false
	}
	if len(p.ExcludeSKUs) > 0 && anyIncluded(p.ExcludeSKUs, pr.SKUs) {
		return false
	}
	if len(p.Categories) > 0 && !anyIncluded(p.Categories, pr.Categories) {
		return false
	}
	if len(p.ExcludeCategories) > 0 && anyIncluded(p.ExcludeCategories, pr.Categories) {
		return false
	}
	if p.IsSubscription != nil && pr.IsSubscription != *p.IsSubscription {
		return false
	}
	return true
}

type PaymentMethodConditions struct {
	Types             []string `json:"types,omitempty"`
	CardBrands        []string `json:"card_brands,omitempty"`
	ExcludeCardBrands []string `json:"exclude_card_brands,omitempty"`
	CardTypes         []string `json:"card_types,omitempty"`

	// BINs and ExcludeBINs are prefixes of the card BIN ("4" matches "411111").
	BINs        []string `json:"bins,omitempty"`
	ExcludeBINs []string `json:"exclude_bins,omitempty"`

	WalletTypes []string `json:"wallet_types,omitempty"`

	IsTokenized     *bool `json:"is_tokenized,omitempty"`
	Is3DSEnrolled   *bool `json:"is_3ds_enrolled,omitempty"`
	IsDigitalWallet *bool `json:"is_digital_wallet,omitempty"`
}

func (p *PaymentMethodConditions) matches(tx *TransactionContext, _ *environment) bool {
	pm := &tx.PaymentMethod

	if !includes(p.Types, pm.Type, false) {
		return false
	}
	if !includes(p.CardBrands, pm.CardBrand, true) || excludes(p.ExcludeCardBrands, pm.CardBrand, true) {
		return false
	}
	if !includes(p.CardTypes, pm.CardType, true) {
		return false
	}
	if len(p.BINs) > 0 && !hasPrefix(p.BINs, pm.BIN) {
		return false
	}
	if len(p.ExcludeBINs) > 0 && hasPrefix(p.ExcludeBINs, pm.BIN) {
		return false
	}
	if !includes(p.WalletTypes, pm.WalletType, true) {
		return false
	}

	if p.IsTokenized != nil && pm.IsTokenized != *p.IsTokenized {
		return false
	}
	if p.Is3DSEnrolled != nil && pm.Is3DSEnrolled != *p.Is3DSEnrolled {
		return false
	}
	if p.IsDigitalWallet != nil {
		isWallet := pm.WalletType != "" || strings.EqualFold(pm.Type, "wallet")
		if isWallet != *p.IsDigitalWallet {
			return false
		}
	}
	return true
}

// --- membership helpers ---

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func equalValues(a, b string, fold bool) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func contains(list []string, v string, fold bool) bool {
	for _, item := range list {
		if equalValues(item, v, fold) {
			return true
		}
	}
	return false
}

// includes is true for an empty list, otherwise v must be a member.
func includes(list []string, v string, fold bool) bool {
	return len(list) == 0 || contains(list, v, fold)
}

// excludes is true when v is a member of a non-empty exclusion list.
func excludes(list []string, v string, fold bool) bool {
	return len(list) > 0 && contains(list, v, fold)
}

// anyIncluded reports whether any value is a member of list.
func anyIncluded(list, values []string) bool {
	for _, v := range values {
		if contains(list, v, false) {
			return true
		}
	}
	return false
}

func hasPrefix(prefixes []string, bin string) bool {
	bin = strings.TrimSpace(bin)
	if bin == "" {
		return false
	}
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p != "" && strings.HasPrefix(bin, p) {
			return true
		}
	}
	return false
}
