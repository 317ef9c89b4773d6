package config

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// StoreConfig selects the rule and decision log repository.
// The memory backend keeps everything in process and is meant for local runs.
type StoreConfig struct {
	Backend string `envconfig:"BACKEND" default:"postgres" validate:"oneof=postgres memory"`
}
