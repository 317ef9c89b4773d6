package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ObservabilityConfig configures the side listener serving probes and metrics.
// It is kept apart from the control API so scrapes and kubelet probes never
// compete with tenant traffic or need an API key.
type ObservabilityConfig struct {
	Host string `envconfig:"HOST" default:""`
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads, writes and (tripled) idle connections.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	// ProbeTimeout bounds one readiness round across all dependency checks.
	ProbeTimeout time.Duration `envconfig:"PROBE_TIMEOUT" default:"2s" validate:"gt=0"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Addr is the listen address; an empty Host binds every interface.
func (o *ObservabilityConfig) Addr() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// Validate checks the port, the probe budget and that the three paths are
// absolute and distinct.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}
	if o.ProbeTimeout >= o.Timeout {
		return fmt.Errorf("observability probe timeout (%s) must be shorter than the write timeout (%s)", o.ProbeTimeout, o.Timeout)
	}

	seen := make(map[string]string, 3)
	for name, path := range map[string]string{
		"liveness":  o.LivenessPath,
		"readiness": o.ReadinessPath,
		"metrics":   o.MetricsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("observability %s path must start with '/', got %q", name, path)
		}
		if other, dup := seen[path]; dup {
			return fmt.Errorf("observability %s and %s paths are both %q", other, name, path)
		}
		seen[path] = name
	}
	return nil
}
