package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// RedisConfig is shared by the rule cache, the change notifier and the
// readiness probe. Either URL or Host/Port must be set.
type RedisConfig struct {
	// URL takes precedence over the discrete fields, e.g. rediss://:pw@host:6380/2.
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0" validate:"min=0,max=15"`

	TLSEnabled bool `envconfig:"TLS_ENABLED" default:"false"`

	PoolSize     int           `envconfig:"POOL_SIZE" default:"50" validate:"min=1"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"10" validate:"min=0"`
	PoolTimeout  time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	// Snapshot reads sit on the evaluation path, so reads time out sooner
	// than the pool wait.
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`

	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" default:"512ms"`

	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`
}

// Address is host:port built from the discrete fields. It ignores URL.
func (c *RedisConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// UsesTLS reports whether connections must be encrypted, either by flag or
// through a rediss:// URL.
func (c *RedisConfig) UsesTLS() bool {
	return c.TLSEnabled || strings.HasPrefix(c.URL, "rediss://")
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// Validate checks the endpoint and pool sizing. In production a password and
// TLS are mandatory whichever form the endpoint takes.
func (c *RedisConfig) Validate(environment string) error {
	password := c.Password
	if c.URL != "" {
		urlPassword, err := validateRedisURL(c.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		if password == "" {
			password = urlPassword
		}
	} else {
		if err := validateHost(c.Host, "redis"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "redis"); err != nil {
			return err
		}
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize)
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if password == "" {
		return errors.New("redis password is required in production environment")
	}
	if err := validatePasswordStrength(password, "redis", environment); err != nil {
		return err
	}
	if !c.UsesTLS() {
		return errors.New("redis TLS must be enabled in production environment")
	}
	return nil
}

// validateRedisURL checks scheme, host and the optional /db path and returns
// the password embedded in the URL, if any.
func validateRedisURL(raw string) (string, error) {
	parsed, err := parseAndValidateURL(raw, []string{"redis", "rediss"})
	if err != nil {
		return "", err
	}

	if db := strings.Trim(parsed.Path, "/"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return "", fmt.Errorf("database number must be a valid integer: %s", db)
		}
		if n < 0 || n > 15 {
			return "", fmt.Errorf("database number must be between 0 and 15, got %d", n)
		}
	}

	password, _ := parsed.User.Password()
	return password, nil
}
