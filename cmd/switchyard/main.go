// Package main initializes and runs the Switchyard routing service.
//
// It is the composition root: configuration, logging, storage, cache,
// the evaluation engine, background workers and both HTTP servers are
// wired here and torn down in reverse order on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/switchyard-pay/switchyard/internal/cache"
	"github.com/switchyard-pay/switchyard/internal/config"
	"github.com/switchyard-pay/switchyard/internal/controlapi"
	"github.com/switchyard-pay/switchyard/internal/database"
	"github.com/switchyard-pay/switchyard/internal/lifecycle"
	"github.com/switchyard-pay/switchyard/internal/logger"
	"github.com/switchyard-pay/switchyard/internal/notify"
	"github.com/switchyard-pay/switchyard/internal/observability"
	"github.com/switchyard-pay/switchyard/internal/recorder"
	"github.com/switchyard-pay/switchyard/internal/routing"
	"github.com/switchyard-pay/switchyard/internal/ruleengine"
	"github.com/switchyard-pay/switchyard/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// storage bundles the repositories chosen by STORE_BACKEND.
type storage struct {
	rules     store.RuleRepository
	decisions store.DecisionLogRepository
	checkers  []observability.Checker
	close     func()
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure
	// -------------------------------------------------------------------------
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	checkers := append([]observability.Checker(nil), st.checkers...)

	var redisClient *redis.Client
	if cfg.RequiresRedis() {
		redisClient, err = cache.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		checkers = append(checkers, cache.NewHealthChecker(redisClient))
	}

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	ruleCache, err := openCache(workerCtx, cfg, redisClient, &wg)
	if err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	engine := ruleengine.New(log, ruleengine.WithJurisdictions(ruleengine.Jurisdictions{
		HomeCountry:           cfg.Engine.HomeCountry,
		SanctionedCountries:   cfg.Engine.SanctionedCountries,
		HighRiskCountries:     cfg.Engine.HighRiskCountries,
		NewCustomerMaxAgeDays: cfg.Engine.NewCustomerMaxAgeDays,
	}))

	var notifier routing.Notifier = notify.NewLogNotifier(log)
	if cfg.Notify.Backend == config.NotifyBackendRedis {
		redisNotifier := notify.NewRedisNotifier(redisClient, cfg.Notify.Channel)
		notifier = redisNotifier

		// A memory cache is private to this replica, so mutations made on
		// other replicas arrive as events and evict the local snapshot.
		if cfg.Cache.Backend == config.CacheBackendMemory {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := redisNotifier.Subscribe(workerCtx, log, func(e notify.Event) {
					if err := ruleCache.Invalidate(workerCtx, e.CompanyID); err != nil {
						log.Warn("failed to apply remote invalidation",
							slog.String("company_id", e.CompanyID),
							slog.String("error", err.Error()),
						)
					}
				})
				if err != nil {
					log.Error("rule event subscriber stopped with error", slog.String("error", err.Error()))
				}
			}()
		}
	}

	rec := recorder.New(log, cfg.Recorder, st.rules, st.decisions)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rec.Run(workerCtx); err != nil {
			log.Error("recorder stopped with error", slog.String("error", err.Error()))
		}
	}()

	svc := routing.NewService(log, st.rules, st.decisions, ruleCache, engine, rec,
		routing.WithNotifier(notifier),
	)

	if cfg.Lifecycle.Enabled {
		sweeper := lifecycle.NewSweeper(log, cfg.Lifecycle, svc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sweeper.Start(workerCtx); err != nil {
				log.Error("lifecycle sweeper stopped with error", slog.String("error", err.Error()))
			}
		}()
	}

	// -------------------------------------------------------------------------
	// 4. Servers
	// -------------------------------------------------------------------------
	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	if err := obs.Start(); err != nil {
		return err
	}

	control := cfg.Server.Control
	skipAuth := control.AuthDisabled(cfg.App.Environment)
	if skipAuth {
		log.Warn("control API authentication disabled: no API key hash configured")
	}
	api := controlapi.NewAPIWithConfig(svc, control.APIKeyHash, skipAuth,
		controlapi.WithMaxBodyBytes(control.MaxBodyBytes),
	)

	httpServer := &http.Server{
		Addr:              control.Addr(),
		Handler:           api.Router,
		ReadTimeout:       control.ReadTimeout,
		WriteTimeout:      control.WriteTimeout,
		ReadHeaderTimeout: control.ReadHeaderTimeout,
		IdleTimeout:       control.IdleTimeout,
		MaxHeaderBytes:    control.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("control API listening",
			slog.String("addr", httpServer.Addr),
			slog.Bool("tls", control.TLSEnabled),
		)
		var err error
		if control.TLSEnabled {
			err = httpServer.ListenAndServeTLS(control.TLSCert, control.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("control API failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case runErr = <-errChan:
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("control API shutdown failed", slog.String("error", err.Error()))
	}

	// Workers stop after the API so in-flight evaluations can still enqueue.
	cancelWorkers()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Warn("background workers did not stop before the shutdown timeout")
	}

	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("service exited", slog.Bool("clean", runErr == nil))
	return runErr
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		slog.Warn("using in-memory store: rules and decisions are lost on restart")
		mem := store.NewMemoryStore()
		return &storage{rules: mem, decisions: mem, close: func() {}}, nil
	}

	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	go database.RunPoolMonitor(monitorCtx, pool, cfg.Database.StatsInterval)

	pg := store.NewPostgresStore(pool)
	return &storage{
		rules:     pg,
		decisions: pg,
		checkers:  []observability.Checker{database.NewSchemaChecker(pool)},
		close: func() {
			cancel()
			pool.Close()
		},
	}, nil
}

func openCache(ctx context.Context, cfg *config.Config, client *redis.Client, wg *sync.WaitGroup) (cache.RuleCache, error) {
	if cfg.Cache.Backend == config.CacheBackendRedis {
		return cache.NewRedisCache(client, cfg.Cache.TTL), nil
	}

	mc, err := cache.NewMemoryCache(cfg.Cache.Capacity, cfg.Cache.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule cache: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		mc.RunMetricsCollector(ctx, cfg.Cache.MetricsInterval)
		mc.Close()
	}()
	return mc, nil
}
