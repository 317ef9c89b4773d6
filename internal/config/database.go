package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// DatabaseConfig configures the PostgreSQL pool behind the rule store and
// the decision log. Either URL or the discrete fields must be set.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	Host     string `envconfig:"HOST"`
	Port     string `envconfig:"PORT"`
	Name     string `envconfig:"NAME"`
	User     string `envconfig:"USER"`
	Password string `envconfig:"PASSWORD"`
	SSLMode  string `envconfig:"SSL_MODE" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string `envconfig:"APPLICATION_NAME" default:"switchyard"`
	// StatementTimeout is enforced server side on every pooled session.
	// Zero leaves the server default in place.
	StatementTimeout time.Duration `envconfig:"STATEMENT_TIMEOUT" default:"5s" validate:"min=0"`

	MaxConns        int           `envconfig:"MAX_CONNS" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`

	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" default:"2s"`

	// StatsInterval is how often pool statistics are exported as metrics.
	StatsInterval time.Duration `envconfig:"STATS_INTERVAL" default:"15s" validate:"gt=0"`
}

// ConnectionString returns URL verbatim or assembles a postgres:// URL from
// the discrete fields, escaping credentials.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

// Validate checks the endpoint and the pool bounds. Production additionally
// requires a strong password and an encrypted connection, whichever form the
// endpoint takes.
func (c *DatabaseConfig) Validate(environment string) error {
	password, sslMode := c.Password, c.SSLMode
	if c.URL != "" {
		parsed, err := validatePostgresURL(c.URL)
		if err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
		if p, ok := parsed.User.Password(); ok && password == "" {
			password = p
		}
		if mode := parsed.Query().Get("sslmode"); mode != "" {
			sslMode = mode
		}
	} else if err := c.validateComponents(); err != nil {
		return err
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}

	if environment != EnvironmentProduction {
		return nil
	}
	if password == "" {
		return errors.New("database password is required in production environment")
	}
	if err := validatePasswordStrength(password, "database", environment); err != nil {
		return err
	}
	if !isSecureSSLMode(sslMode) {
		return errors.New("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
	}
	return nil
}

func (c *DatabaseConfig) validateComponents() error {
	if err := validateHost(c.Host, "database"); err != nil {
		return err
	}
	if err := validatePort(c.Port, "database"); err != nil {
		return err
	}
	if err := validateNoWhitespace(c.Name, "database name"); err != nil {
		return err
	}
	// NAMEDATALEN is 64 including the terminator.
	if len(c.Name) > 63 {
		return errors.New("database name cannot exceed 63 characters")
	}
	return validateNoWhitespace(c.User, "database user")
}

func validatePostgresURL(raw string) (*url.URL, error) {
	parsed, err := parseAndValidateURL(raw, []string{"postgres", "postgresql"})
	if err != nil {
		return nil, err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return nil, errors.New("user is required in URL")
	}
	if strings.Trim(parsed.Path, "/") == "" {
		return nil, errors.New("database name is required in URL path")
	}
	return parsed, nil
}
