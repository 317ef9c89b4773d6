// Package config provides centralized configuration management for Switchyard.
// It uses envconfig for environment variable loading and validator for validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvironmentProduction is the production environment identifier
	EnvironmentProduction = "production"

	// EnvPrefix is prepended to every environment variable (SWITCHYARD_APP_ENV, ...).
	EnvPrefix = "SWITCHYARD"
)

// Config holds the complete application configuration.
type Config struct {
	App           AppConfig           `envconfig:"APP"`
	Server        ServerConfig        `envconfig:"SERVER"`
	Store         StoreConfig         `envconfig:"STORE"`
	Database      DatabaseConfig      `envconfig:"DB"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	Cache         CacheConfig         `envconfig:"CACHE"`
	Engine        EngineConfig        `envconfig:"ENGINE"`
	Recorder      RecorderConfig      `envconfig:"RECORDER"`
	Lifecycle     LifecycleConfig     `envconfig:"LIFECYCLE"`
	Notify        NotifyConfig        `envconfig:"NOTIFY"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"switchyard"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	Environment     string        `envconfig:"ENV" default:"development" validate:"oneof=development staging production"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Control ControlPlaneConfig `envconfig:"CONTROL"`
}

// Load reads configuration from environment variables with the SWITCHYARD prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate runs struct tag rules first, then each section's own checks.
// Database and Redis are only checked when a configured backend uses them.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	env := c.App.Environment
	checks := []func() error{
		func() error { return c.Server.Control.Validate(env) },
		c.Engine.Validate,
		c.Lifecycle.Validate,
		c.Observability.Validate,
	}
	if c.Store.Backend == StoreBackendPostgres {
		checks = append(checks, func() error { return c.Database.Validate(env) })
	}
	if c.RequiresRedis() {
		checks = append(checks, func() error { return c.Redis.Validate(env) })
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}

	if c.Server.Control.Port == c.Observability.Port {
		return fmt.Errorf("control plane and observability cannot share port %s", c.Observability.Port)
	}
	return nil
}

// RequiresRedis reports whether any configured backend needs a Redis connection.
func (c *Config) RequiresRedis() bool {
	return c.Cache.Backend == CacheBackendRedis || c.Notify.Backend == NotifyBackendRedis
}

// LogConfig logs the current configuration (without sensitive data).
func (c *Config) LogConfig(log *slog.Logger) {
	log.Info("configuration loaded",
		slog.String("app_name", c.App.Name),
		slog.String("version", c.App.Version),
		slog.String("environment", c.App.Environment),
		slog.String("log_level", c.App.LogLevel),
		slog.String("log_format", c.App.LogFormat),
		slog.Duration("shutdown_timeout", c.App.ShutdownTimeout),
		slog.String("control_addr", c.Server.Control.Addr()),
		slog.Bool("tls_enabled", c.Server.Control.TLSEnabled),
		slog.Bool("api_key_required", c.Server.Control.APIKeyHash != ""),
		slog.String("store_backend", c.Store.Backend),
		slog.Bool("db_configured", c.Database.IsConfigured()),
		slog.Bool("redis_configured", c.Redis.IsConfigured()),
		slog.String("cache_backend", c.Cache.Backend),
		slog.Duration("cache_ttl", c.Cache.TTL),
		slog.String("home_country", c.Engine.HomeCountry),
		slog.Int("recorder_workers", c.Recorder.Workers),
		slog.Int("recorder_queue_size", c.Recorder.QueueSize),
		slog.Bool("lifecycle_enabled", c.Lifecycle.Enabled),
		slog.String("lifecycle_schedule", c.Lifecycle.Schedule),
		slog.String("notify_backend", c.Notify.Backend),
		slog.String("observability_addr", c.Observability.Addr()),
	)
}

func validatePort(port, component string) error {
	if port == "" {
		return fmt.Errorf("%s port cannot be empty", component)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("%s port must be a number: %w", component, err)
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", component, n)
	}
	return nil
}

func validateHost(host, component string) error {
	return validateNoWhitespace(host, component+" host")
}

// validateNoWhitespace rejects empty values and values padded with spaces,
// the usual result of a stray space in a .env file.
func validateNoWhitespace(value, field string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if strings.TrimSpace(value) != value {
		return fmt.Errorf("%s cannot contain whitespace", field)
	}
	return nil
}

func validatePasswordStrength(password, component, environment string) error {
	if environment == EnvironmentProduction && len(password) < 12 {
		return fmt.Errorf("%s password must be at least 12 characters in production", component)
	}
	return nil
}

func isSecureSSLMode(mode string) bool {
	switch mode {
	case "require", "verify-ca", "verify-full":
		return true
	}
	return false
}

// parseAndValidateURL parses raw and requires one of schemes and a host.
func parseAndValidateURL(raw string, schemes []string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if !slices.Contains(schemes, parsed.Scheme) {
		return nil, fmt.Errorf("invalid scheme '%s', must be one of: %v", parsed.Scheme, schemes)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("host is required in URL")
	}
	return parsed, nil
}
