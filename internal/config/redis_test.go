package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConfig_Validate(t *testing.T) {
	t.Parallel()

	discrete := func() RedisConfig {
		return RedisConfig{Host: "cache.internal", Port: "6379", PoolSize: 10, MinIdleConns: 2}
	}
	fromURL := func(u string) RedisConfig {
		return RedisConfig{URL: u, PoolSize: 10}
	}

	tests := []struct {
		name    string
		env     string
		cfg     func() RedisConfig
		wantErr string
	}{
		{
			name: "Should accept host and port in development",
			env:  "development",
			cfg:  discrete,
		},
		{
			name: "Should reject a missing host",
			env:  "development",
			cfg: func() RedisConfig {
				c := discrete()
				c.Host = ""
				return c
			},
			wantErr: "redis host cannot be empty",
		},
		{
			name: "Should reject more idle connections than the pool holds",
			env:  "development",
			cfg: func() RedisConfig {
				c := discrete()
				c.MinIdleConns = 11
				return c
			},
			wantErr: "min_idle_conns",
		},
		{
			name:    "Should reject an http URL",
			env:     "development",
			cfg:     func() RedisConfig { return fromURL("http://cache.internal:6379") },
			wantErr: "invalid scheme",
		},
		{
			name:    "Should reject a database index above 15",
			env:     "development",
			cfg:     func() RedisConfig { return fromURL("redis://cache.internal:6379/16") },
			wantErr: "between 0 and 15",
		},
		{
			name:    "Should reject a non-numeric database path",
			env:     "development",
			cfg:     func() RedisConfig { return fromURL("redis://cache.internal:6379/rules") },
			wantErr: "valid integer",
		},
		{
			name: "Should require a password in production",
			env:  EnvironmentProduction,
			cfg: func() RedisConfig {
				c := discrete()
				c.TLSEnabled = true
				return c
			},
			wantErr: "password is required",
		},
		{
			name: "Should reject a short password in production",
			env:  EnvironmentProduction,
			cfg: func() RedisConfig {
				c := discrete()
				c.TLSEnabled, c.Password = true, "short"
				return c
			},
			wantErr: "at least 12 characters",
		},
		{
			name: "Should require TLS in production",
			env:  EnvironmentProduction,
			cfg: func() RedisConfig {
				c := discrete()
				c.Password = "a-long-redis-secret"
				return c
			},
			wantErr: "TLS must be enabled",
		},
		{
			name: "Should accept a rediss URL carrying its own password in production",
			env:  EnvironmentProduction,
			cfg:  func() RedisConfig { return fromURL("rediss://:a-long-redis-secret@cache.internal:6380/2") },
		},
		{
			name:    "Should reject a plain redis URL in production",
			env:     EnvironmentProduction,
			cfg:     func() RedisConfig { return fromURL("redis://:a-long-redis-secret@cache.internal:6379") },
			wantErr: "TLS must be enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := tt.cfg()
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

func TestRedisConfig_Helpers(t *testing.T) {
	t.Parallel()

	t.Run("Should build the address from host and port", func(t *testing.T) {
		t.Parallel()
		cfg := RedisConfig{Host: "cache.internal", Port: "6379"}
		assert.Equal(t, "cache.internal:6379", cfg.Address())
		assert.True(t, cfg.IsConfigured())
	})

	t.Run("Should treat a rediss URL as TLS", func(t *testing.T) {
		t.Parallel()
		assert.True(t, (&RedisConfig{URL: "rediss://cache.internal:6380"}).UsesTLS())
		assert.False(t, (&RedisConfig{URL: "redis://cache.internal:6379"}).UsesTLS())
		assert.True(t, (&RedisConfig{TLSEnabled: true}).UsesTLS())
	})

	t.Run("Should report an empty config as unconfigured", func(t *testing.T) {
		t.Parallel()
		assert.False(t, (&RedisConfig{Host: "cache.internal"}).IsConfigured())
	})
}

func TestRedisConfig_Load(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:    "Should apply pool and timeout defaults",
			envVars: minimalRequiredConfig(),
			want: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 50, cfg.Redis.PoolSize)
				assert.Equal(t, 10, cfg.Redis.MinIdleConns)
				assert.Equal(t, 3*time.Second, cfg.Redis.ReadTimeout)
				assert.Equal(t, 4*time.Second, cfg.Redis.PoolTimeout)
				assert.Equal(t, 5, cfg.Redis.PingMaxRetries)
				assert.Equal(t, 2*time.Second, cfg.Redis.PingBackoff)
			},
		},
		{
			name: "Should skip redis validation when nothing depends on it",
			envVars: mergeEnvVars(map[string]string{
				"SWITCHYARD_CACHE_BACKEND": "memory",
				"SWITCHYARD_REDIS_HOST":    "",
				"SWITCHYARD_REDIS_PORT":    "",
			}),
			want: func(t *testing.T, cfg *Config) {
				assert.False(t, cfg.RequiresRedis())
			},
		},
		{
			name: "Should validate redis when the notifier publishes there",
			envVars: mergeEnvVars(map[string]string{
				"SWITCHYARD_CACHE_BACKEND":  "memory",
				"SWITCHYARD_NOTIFY_BACKEND": "redis",
				"SWITCHYARD_REDIS_HOST":     "",
			}),
			wantErr: true,
		},
		{
			name: "Should reject a database index out of range",
			envVars: mergeEnvVars(map[string]string{
				"SWITCHYARD_REDIS_DB": "16",
			}),
			wantErr: true,
		},
		{
			name: "Should reject a zero ping retry count",
			envVars: mergeEnvVars(map[string]string{
				"SWITCHYARD_REDIS_PING_MAX_RETRIES": "0",
			}),
			wantErr: true,
		},
		{
			name: "Should reject an unparsable ping backoff",
			envVars: mergeEnvVars(map[string]string{
				"SWITCHYARD_REDIS_PING_BACKOFF": "soon",
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}
