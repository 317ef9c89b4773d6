package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// LifecycleConfig configures the scheduled rule status sweeper.
type LifecycleConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Schedule is a standard cron expression or descriptor ("@every 1m").
	Schedule string `envconfig:"SCHEDULE" default:"@every 1m"`

	// Timeout bounds a single sweep.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s" validate:"gt=0"`

	// Actor is recorded as the author of automatic transitions.
	Actor string `envconfig:"ACTOR" default:"system:lifecycle"`
}

// Validate parses the schedule with the same parser the sweeper uses.
func (c *LifecycleConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid lifecycle schedule %q: %w", c.Schedule, err)
	}
	return validateNoWhitespace(c.Actor, "lifecycle actor")
}
