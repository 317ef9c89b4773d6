package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
)

// ComponentStatus is one entry of the readiness report.
type ComponentStatus struct {
	Name      string  `json:"name"`
	Up        bool    `json:"up"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// ReadinessReport is the body of the readiness probe.
type ReadinessReport struct {
	Ready      bool              `json:"ready"`
	Components []ComponentStatus `json:"components"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness answers 200 only when every checker passes within cfg.ProbeTimeout.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	report := s.probe(r.Context())

	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	render.Status(r, status)
	render.JSON(w, r, report)
}

// probe runs the checkers concurrently. A failing checker never cancels the
// others, so the report always covers every component.
func (s *Server) probe(ctx context.Context) ReadinessReport {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	results := make([]ComponentStatus, len(s.checkers))

	var g errgroup.Group
	for i, c := range s.checkers {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)

			res := ComponentStatus{
				Name:      c.Name(),
				Up:        err == nil,
				LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				res.Error = err.Error()
				s.logger.Warn("readiness check failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].Name < results[b].Name })

	report := ReadinessReport{Ready: true, Components: results}
	for _, res := range results {
		if !res.Up {
			report.Ready = false
		}
	}
	return report
}
