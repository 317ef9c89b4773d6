package config

import "time"

// RecorderConfig contains configuration for the asynchronous decision recorder.
type RecorderConfig struct {
	// QueueSize bounds the pending jobs. A full queue drops new jobs.
	QueueSize int `envconfig:"QUEUE_SIZE" default:"1024" validate:"min=1"`

	Workers int `envconfig:"WORKERS" default:"4" validate:"min=1,max=256"`

	// WriteTimeout bounds a single statistics or audit write.
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"5s" validate:"gt=0"`

	// MaxRetries is the number of extra attempts after a failed write.
	MaxRetries int `envconfig:"MAX_RETRIES" default:"2" validate:"min=0,max=10"`

	// BaseRetryDelay doubles after every failed attempt.
	BaseRetryDelay time.Duration `envconfig:"BASE_RETRY_DELAY" default:"50ms"`

	// DrainTimeout bounds how long shutdown waits for queued jobs.
	DrainTimeout time.Duration `envconfig:"DRAIN_TIMEOUT" default:"10s" validate:"gt=0"`
}
