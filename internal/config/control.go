package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ControlPlaneConfig configures the rule management and evaluation API.
type ControlPlaneConfig struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port string `envconfig:"PORT" default:"8080"`

	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`

	MaxHeaderBytes int `envconfig:"MAX_HEADER_BYTES" default:"524288" validate:"min=1"`
	// MaxBodyBytes caps rule definitions and transaction payloads. Rules with
	// large include lists are the biggest legitimate bodies.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" default:"1048576" validate:"min=1024"`

	// APIKeyHash is the lowercase SHA-256 hex digest of the X-API-Key value.
	APIKeyHash string `envconfig:"API_KEY_HASH"`

	TLSEnabled bool   `envconfig:"TLS_ENABLED" default:"false"`
	TLSCert    string `envconfig:"TLS_CERT_FILE"`
	TLSKey     string `envconfig:"TLS_KEY_FILE"`
}

// Addr is the listen address of the control API.
func (c *ControlPlaneConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// AuthDisabled reports whether requests are served without an API key.
// Only non-production environments without a configured hash qualify.
func (c *ControlPlaneConfig) AuthDisabled(environment string) bool {
	return environment != EnvironmentProduction && c.APIKeyHash == ""
}

// Validate checks the listener, the credentials and the TLS material.
func (c *ControlPlaneConfig) Validate(environment string) error {
	if err := validateHost(c.Host, "control plane"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "control plane"); err != nil {
		return err
	}

	// A malformed hash would lock every client out, so it is rejected in any
	// environment, not only production.
	if c.APIKeyHash != "" {
		if err := validateSHA256Hex(c.APIKeyHash); err != nil {
			return fmt.Errorf("invalid API key hash: %w", err)
		}
	}

	if c.TLSEnabled && (c.TLSCert == "" || c.TLSKey == "") {
		return errors.New("control plane TLS enabled but cert or key file not specified")
	}

	if environment != EnvironmentProduction {
		return nil
	}
	switch {
	case c.APIKeyHash == "":
		return errors.New("API key hash is required in production environment")
	case !c.TLSEnabled:
		return errors.New("TLS must be enabled in production environment")
	}
	return nil
}

func validateSHA256Hex(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("SHA-256 hash must be 64 characters, got %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return fmt.Errorf("hash must be valid hexadecimal: %w", err)
	}
	if strings.ToLower(hash) != hash {
		return errors.New("hash must be lowercase hexadecimal")
	}
	return nil
}
