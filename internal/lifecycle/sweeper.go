// Package lifecycle runs the scheduled rule status sweeper: SCHEDULED rules
// whose activation instant has passed become ACTIVE, and ACTIVE or TESTING
// rules whose deactivation instant has passed become EXPIRED.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/switchyard-pay/switchyard/internal/config"
	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/store"
	"github.com/switchyard-pay/switchyard/internal/validation"
)

// Transitioner is the slice of the routing service the sweeper drives.
// Transitions go through the regular update path so they bump the version,
// evict the tenant cache and publish an update event.
type Transitioner interface {
	DueTransitions(ctx context.Context, now time.Time) ([]ruleengine.Rule, error)
	TransitionStatus(ctx context.Context, rule ruleengine.Rule, status ruleengine.Status, actor string) (*ruleengine.Rule, error)
}

// Result summarizes one sweep.
type Result struct {
	Activated int
	Expired   int
	// Skipped counts rules edited concurrently; the next sweep sees their new state.
	Skipped int
	Failed  int
}

// Sweeper applies due status transitions on a cron schedule.
type Sweeper struct {
	logger *slog.Logger
	cfg    config.LifecycleConfig
	rules  Transitioner
	now    func() time.Time
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) { s.now = fn }
}

func NewSweeper(logger *slog.Logger, cfg config.LifecycleConfig, rules Transitioner, opts ...Option) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(rules, "lifecycle transitioner")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Actor == "" {
		cfg.Actor = "system:lifecycle"
	}

	s := &Sweeper{
		logger: logger,
		cfg:    cfg,
		rules:  rules,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules Sweep with cfg.Schedule and blocks until ctx is cancelled.
// A sweep still running at that point is allowed to finish.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	_, err := c.AddFunc(s.cfg.Schedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		if _, err := s.Sweep(sweepCtx); err != nil {
			s.logger.Error("lifecycle sweep failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid lifecycle schedule %q: %w", s.cfg.Schedule, err)
	}

	s.logger.Info("starting lifecycle sweeper", slog.String("schedule", s.cfg.Schedule))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("lifecycle sweeper stopped")
	return nil
}

// Sweep applies every transition due now. A failing rule does not stop the
// sweep; only a failure to list due rules is returned.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() {
		observability.LifecycleSweepDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.now()
	due, err := s.rules.DueTransitions(ctx, now)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, rule := range due {
		target := targetStatus(&rule, now)
		if target == "" {
			continue
		}

		_, err := s.rules.TransitionStatus(ctx, rule, target, s.cfg.Actor)
		switch {
		case err == nil:
			observability.LifecycleTransitions.WithLabelValues(string(target), "success").Inc()
			if target == ruleengine.StatusActive {
				res.Activated++
			} else {
				res.Expired++
			}
			s.logger.Info("rule status transitioned",
				slog.String("company_id", rule.CompanyID),
				slog.String("rule_id", rule.ID),
				slog.String("from", string(rule.Status)),
				slog.String("to", string(target)),
			)
		case errors.Is(err, store.ErrVersionConflict), errors.Is(err, store.ErrNotFound):
			res.Skipped++
			s.logger.Debug("rule changed during sweep, skipping",
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()),
			)
		default:
			res.Failed++
			observability.LifecycleTransitions.WithLabelValues(string(target), "fail").Inc()
			s.logger.Error("failed to transition rule",
				slog.String("rule_id", rule.ID),
				slog.String("to", string(target)),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(due) > 0 {
		s.logger.Info("lifecycle sweep completed",
			slog.Int("activated", res.Activated),
			slog.Int("expired", res.Expired),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return res, nil
}

// targetStatus decides where a due rule goes. A SCHEDULED rule whose whole
// window is already in the past goes straight to EXPIRED.
func targetStatus(r *ruleengine.Rule, now time.Time) ruleengine.Status {
	if r.Schedule == nil {
		return ""
	}
	ended := r.Schedule.DeactivateAt != nil && !r.Schedule.DeactivateAt.After(now)

	switch r.Status {
	case ruleengine.StatusScheduled:
		if ended {
			return ruleengine.StatusExpired
		}
		if r.Schedule.ActivateAt != nil && !r.Schedule.ActivateAt.After(now) {
			return ruleengine.StatusActive
		}
	case ruleengine.StatusActive, ruleengine.StatusTesting:
		if ended {
			return ruleengine.StatusExpired
		}
	}
	return ""
}
