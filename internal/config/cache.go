package config

import "time"

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig configures the per-tenant active-rule cache.
type CacheConfig struct {
	// Backend "memory" is local to the instance; "redis" is shared by all replicas.
	Backend string `envconfig:"BACKEND" default:"memory" validate:"oneof=memory redis"`

	// TTL bounds how long a tenant snapshot is served before a store refill.
	TTL time.Duration `envconfig:"TTL" default:"1m" validate:"gt=0"`

	// Capacity is the maximum number of tenants held by the memory backend.
	Capacity int `envconfig:"CAPACITY" default:"10000" validate:"min=1"`

	// MetricsInterval is how often the memory backend publishes its item count.
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"gt=0"`
}
