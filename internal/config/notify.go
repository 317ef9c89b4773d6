package config

const (
	NotifyBackendLog   = "log"
	NotifyBackendRedis = "redis"
)

// NotifyConfig selects where rule lifecycle events are published.
type NotifyConfig struct {
	Backend string `envconfig:"BACKEND" default:"log" validate:"oneof=log redis"`

	// Channel is the Redis pub/sub channel used by the redis backend.
	Channel string `envconfig:"CHANNEL" default:"switchyard:rule-events" validate:"required"`
}
