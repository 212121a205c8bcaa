package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/muselab/aura/internal/adapters/http/api"
	repository "github.com/muselab/aura/internal/adapters/repository"
	app "github.com/muselab/aura/internal/app"
	"github.com/muselab/aura/internal/batch"
	"github.com/muselab/aura/internal/config"
	"github.com/muselab/aura/internal/domain/aggregate"
	"github.com/muselab/aura/internal/domain/rating"
	"github.com/muselab/aura/internal/domain/selection"
	"github.com/muselab/aura/pkg/logger"
	"github.com/muselab/aura/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Drop the default collectors; the engine registers its own set.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env).
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := openStore(cfg)
	if err != nil {
		os.Stderr.WriteString("failed to open store: " + err.Error() + "\n")
		return
	}

	svc := app.New(store,
		app.WithLogger(log),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithRatingOptions(
			rating.WithK(cfg.KFactor),
			rating.WithSigmaBounds(cfg.SigmaFloor, cfg.SigmaCap),
			rating.WithSigmaShrink(cfg.SigmaShrink),
		),
		app.WithAggregateOptions(
			aggregate.WithWeights(cfg.RatingWeight, cfg.SignalWeight, cfg.BoostWeight),
			aggregate.WithSigmaCap(cfg.SigmaCap),
		),
		app.WithSelectionOptions(
			selection.WithTopK(cfg.TopK),
			selection.WithRecentPairCap(cfg.RecentPairCap),
		),
		app.WithBatchOptions(
			batch.WithBatchSize(cfg.BatchSize),
			batch.WithTickInterval(time.Duration(cfg.TickIntervalMS)*time.Millisecond),
			batch.WithBudget(time.Duration(cfg.BatchBudgetMS)*time.Millisecond),
			batch.WithPublishThresholds(cfg.ScoreDelta, cfg.ConfidenceDelta),
		),
	)
	if err := svc.Start(ctx); err != nil {
		os.Stderr.WriteString("failed to start service: " + err.Error() + "\n")
		return
	}
	defer func() { _ = svc.Shutdown(context.Background()) }()

	go startStatsUpdater(ctx, svc)

	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			os.Stderr.WriteString("HTTP server failed: " + err.Error() + "\n")
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// openStore selects sqlite when a path is configured, the in-memory
// store otherwise.
func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.StorePath == "" {
		return repository.NewMemStore(), nil
	}
	return repository.OpenSQL(cfg.StorePath)
}

// startStatsUpdater refreshes the engine gauges between batch cycles.
func startStatsUpdater(ctx context.Context, svc *app.Service) {
	const interval = 5 * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := svc.GetStats(ctx)
			if err != nil {
				continue
			}
			metrics.UpdateItemsTracked(stats.Items)
			metrics.UpdateRatersTracked(stats.Raters)
			metrics.UpdateDirtyBacklog(stats.DirtyBacklog)
		}
	}
}
