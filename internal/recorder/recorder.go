// Package recorder implements the asynchronous Decision Recorder.
// Evaluations hand it statistics updates and audit entries; a fixed pool of
// workers writes them to the store without ever blocking the caller.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/switchyard-pay/switchyard/internal/config"
	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/store"
	"github.com/switchyard-pay/switchyard/internal/validation"
)

// Kind labels a job for logs and metrics.
type Kind string

const (
	KindStats Kind = "stats"
	KindAudit Kind = "audit"
)

// Job is one unit of post-evaluation work.
// Stats jobs use RuleIDs, MatchedAt and ProcessingTimeMs; audit jobs use Log.
type Job struct {
	Kind Kind

	RuleIDs          []string
	MatchedAt        time.Time
	ProcessingTimeMs float64

	Log *store.DecisionLog

	submittedAt time.Time
}

// StatsJob builds the statistics update for the rules applied by one evaluation.
func StatsJob(ruleIDs []string, matchedAt time.Time, processingTimeMs float64) Job {
	return Job{Kind: KindStats, RuleIDs: ruleIDs, MatchedAt: matchedAt, ProcessingTimeMs: processingTimeMs}
}

// AuditJob builds the decision log append for one evaluation.
func AuditJob(log *store.DecisionLog) Job {
	return Job{Kind: KindAudit, Log: log}
}

// StatsWriter is the subset of store.RuleRepository the recorder needs.
type StatsWriter interface {
	RecordMatch(ctx context.Context, id string, matchedAt time.Time, processingTimeMs float64) error
}

// AuditWriter is the subset of store.DecisionLogRepository the recorder needs.
type AuditWriter interface {
	AppendDecision(ctx context.Context, d *store.DecisionLog) error
}

// Recorder owns the bounded job queue and its workers.
type Recorder struct {
	logger *slog.Logger
	cfg    config.RecorderConfig
	stats  StatsWriter
	audit  AuditWriter
	queue  chan Job
}

// New creates a Recorder. Call Run to start the workers.
func New(logger *slog.Logger, cfg config.RecorderConfig, stats StatsWriter, audit AuditWriter) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertPresent(stats, "stats writer")
	validation.AssertPresent(audit, "audit writer")

	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}

	return &Recorder{
		logger: logger,
		cfg:    cfg,
		stats:  stats,
		audit:  audit,
		queue:  make(chan Job, cfg.QueueSize),
	}
}

// Submit enqueues job without blocking. When the queue is full the job is
// dropped, counted, and false is returned.
func (r *Recorder) Submit(job Job) bool {
	job.submittedAt = time.Now()

	select {
	case r.queue <- job:
		observability.RecorderQueueDepth.Set(float64(r.pending()))
		return true
	default:
		observability.RecorderJobsTotal.WithLabelValues(string(job.Kind), "dropped").Inc()
		r.logger.Warn("recorder queue full, dropping job",
			slog.String("kind", string(job.Kind)),
			slog.Int("queue_size", cap(r.queue)),
		)
		return false
	}
}

// pending returns the number of queued jobs.
func (r *Recorder) pending() int {
	return len(r.queue)
}

// Run starts the workers and blocks until ctx is cancelled. Jobs still queued
// at that point are written before Run returns, bounded by DrainTimeout.
func (r *Recorder) Run(ctx context.Context) error {
	r.logger.Info("starting decision recorder",
		slog.Int("workers", r.cfg.Workers),
		slog.Int("queue_size", cap(r.queue)),
	)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx)
		}()
	}
	wg.Wait()

	r.drain()
	r.logger.Info("decision recorder stopped")
	return nil
}

func (r *Recorder) worker(ctx context.Context) {
	// in-flight writes outlive the shutdown signal; WriteTimeout still bounds them
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.queue:
			observability.RecorderQueueDepth.Set(float64(r.pending()))
			r.process(writeCtx, job)
		}
	}
}

// drain flushes the queue with a fresh context once the run context is gone.
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()

	for {
		select {
		case job := <-r.queue:
			r.process(ctx, job)
		default:
			observability.RecorderQueueDepth.Set(0)
			return
		}
		if ctx.Err() != nil {
			r.logger.Warn("recorder drain timed out", slog.Int("abandoned", r.pending()))
			return
		}
	}
}

// process writes one job, retrying each write with exponential backoff.
// Failures are logged and counted; they never reach the evaluation caller.
func (r *Recorder) process(ctx context.Context, job Job) {
	err := r.write(ctx, job)

	status := "success"
	if err != nil {
		status = "fail"
		r.logger.Error("failed to record job",
			slog.String("kind", string(job.Kind)),
			slog.String("error", err.Error()),
		)
	}
	observability.RecorderJobsTotal.WithLabelValues(string(job.Kind), status).Inc()
	if !job.submittedAt.IsZero() {
		observability.RecorderJobDuration.Observe(time.Since(job.submittedAt).Seconds())
	}
}

func (r *Recorder) write(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindStats:
		// Each rule is retried on its own so a success is never counted twice.
		var firstErr error
		for _, id := range job.RuleIDs {
			err := r.withRetry(ctx, func(ctx context.Context) error {
				return r.stats.RecordMatch(ctx, id, job.MatchedAt, job.ProcessingTimeMs)
			})
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case KindAudit:
		if job.Log == nil {
			return nil
		}
		return r.withRetry(ctx, func(ctx context.Context) error {
			return r.audit.AppendDecision(ctx, job.Log)
		})
	}
	r.logger.Warn("unknown recorder job kind", slog.String("kind", string(job.Kind)))
	return nil
}

func (r *Recorder) withRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := r.cfg.BaseRetryDelay

	var err error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
			delay *= 2
		}

		writeCtx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
		err = fn(writeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
