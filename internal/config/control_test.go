package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHash = "5dec7e1c36e8ec7f526cfa8ff6dc788daad76f6dd34467662eb47990dca6b55d"

func validControlPlane() ControlPlaneConfig {
	return ControlPlaneConfig{Host: "0.0.0.0", Port: "8080"}
}

func TestControlPlaneConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     string
		mutate  func(c *ControlPlaneConfig)
		wantErr string
	}{
		{
			name:   "Should accept an open listener in development",
			env:    "development",
			mutate: func(c *ControlPlaneConfig) {},
		},
		{
			name:    "Should reject a host with surrounding whitespace",
			env:     "development",
			mutate:  func(c *ControlPlaneConfig) { c.Host = " 0.0.0.0" },
			wantErr: "whitespace",
		},
		{
			name:    "Should reject port zero",
			env:     "development",
			mutate:  func(c *ControlPlaneConfig) { c.Port = "0" },
			wantErr: "between 1 and 65535",
		},
		{
			name:    "Should reject a short key hash outside production",
			env:     "staging",
			mutate:  func(c *ControlPlaneConfig) { c.APIKeyHash = "abc123" },
			wantErr: "64 characters",
		},
		{
			name:    "Should reject a non-hex key hash",
			env:     "development",
			mutate:  func(c *ControlPlaneConfig) { c.APIKeyHash = "zz" + testKeyHash[2:] },
			wantErr: "hexadecimal",
		},
		{
			name:    "Should reject an uppercase key hash",
			env:     "development",
			mutate:  func(c *ControlPlaneConfig) { c.APIKeyHash = "5DEC7E1C" + testKeyHash[8:] },
			wantErr: "lowercase",
		},
		{
			name:    "Should reject TLS without a key file",
			env:     "development",
			mutate:  func(c *ControlPlaneConfig) { c.TLSEnabled, c.TLSCert = true, "/certs/tls.crt" },
			wantErr: "cert or key",
		},
		{
			name:    "Should require an API key in production",
			env:     EnvironmentProduction,
			mutate:  func(c *ControlPlaneConfig) { c.TLSEnabled, c.TLSCert, c.TLSKey = true, "a", "b" },
			wantErr: "API key hash is required",
		},
		{
			name:    "Should require TLS in production",
			env:     EnvironmentProduction,
			mutate:  func(c *ControlPlaneConfig) { c.APIKeyHash = testKeyHash },
			wantErr: "TLS must be enabled",
		},
		{
			name: "Should accept a hardened production listener",
			env:  EnvironmentProduction,
			mutate: func(c *ControlPlaneConfig) {
				c.APIKeyHash = testKeyHash
				c.TLSEnabled, c.TLSCert, c.TLSKey = true, "/certs/tls.crt", "/certs/tls.key"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validControlPlane()
			tt.mutate(&cfg)

			err := cfg.Validate(tt.env)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestControlPlaneConfig_Helpers(t *testing.T) {
	t.Parallel()

	t.Run("Should join host and port into an address", func(t *testing.T) {
		t.Parallel()
		cfg := ControlPlaneConfig{Host: "::1", Port: "9000"}
		assert.Equal(t, "[::1]:9000", cfg.Addr())
	})

	t.Run("Should disable auth only outside production without a hash", func(t *testing.T) {
		t.Parallel()
		open := ControlPlaneConfig{}
		keyed := ControlPlaneConfig{APIKeyHash: testKeyHash}

		assert.True(t, open.AuthDisabled("development"))
		assert.False(t, open.AuthDisabled(EnvironmentProduction))
		assert.False(t, keyed.AuthDisabled("development"))
	})
}

func TestControlPlaneConfig_Load(t *testing.T) {
	t.Run("Should apply listener and body limit defaults", func(t *testing.T) {
		for k, v := range minimalRequiredConfig() {
			t.Setenv(k, v)
		}

		cfg, err := Load()
		require.NoError(t, err)

		c := cfg.Server.Control
		assert.Equal(t, "0.0.0.0:8080", c.Addr())
		assert.Equal(t, 10*time.Second, c.ReadTimeout)
		assert.Equal(t, 5*time.Second, c.ReadHeaderTimeout)
		assert.Equal(t, 10*time.Second, c.WriteTimeout)
		assert.Equal(t, 60*time.Second, c.IdleTimeout)
		assert.Equal(t, 512<<10, c.MaxHeaderBytes)
		assert.Equal(t, int64(1<<20), c.MaxBodyBytes)
	})

	t.Run("Should reject a body limit below one kilobyte", func(t *testing.T) {
		for k, v := range mergeEnvVars(map[string]string{"SWITCHYARD_SERVER_CONTROL_MAX_BODY_BYTES": "512"}) {
			t.Setenv(k, v)
		}

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("Should load TLS material from the environment", func(t *testing.T) {
		for k, v := range mergeEnvVars(map[string]string{
			"SWITCHYARD_SERVER_CONTROL_TLS_ENABLED":   "true",
			"SWITCHYARD_SERVER_CONTROL_TLS_CERT_FILE": "/certs/tls.crt",
			"SWITCHYARD_SERVER_CONTROL_TLS_KEY_FILE":  "/certs/tls.key",
		}) {
			t.Setenv(k, v)
		}

		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Server.Control.TLSEnabled)
		assert.Equal(t, "/certs/tls.key", cfg.Server.Control.TLSKey)
	})
}
