// Package main is the entry point for the genetarget indexer: a long-running
// ingestion loop plus the recompute job, with metrics and health on the ops
// listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/config"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/health"
	"github.com/onnwee/genetarget/internal/ingest"
	"github.com/onnwee/genetarget/internal/jobs"
	"github.com/onnwee/genetarget/internal/middleware"
)

const serviceName = "genetarget-indexer"

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to a YAML config file (env vars take precedence)")
	flag.Parse()

	if *help {
		fmt.Println("genetarget indexer")
		fmt.Println()
		fmt.Println("Usage: indexer [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("indexer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded", slog.Any("config", cfg.LogSummary()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := app.NewTracing(cfg, serviceName, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := app.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	stores, err := app.OpenStores(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	if applied, err := stores.Migrate(ctx); err != nil {
		return err
	} else if applied > 0 {
		logger.Info("schema migrated", slog.Int("applied", applied))
	}

	deriver, err := app.NewDeriver(cfg)
	if err != nil {
		return err
	}
	ext, err := app.NewExtractor(cfg, metrics, logger)
	if err != nil {
		return err
	}
	dirty, redisClient, err := app.NewDirtyTracker(ctx, cfg)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	scorer, err := app.NewScorer(cfg, stores, metrics, logger)
	if err != nil {
		return err
	}

	driver := app.NewIngestDriver(cfg, stores, ext, deriver, dirty, 0, metrics, logger)
	job := app.NewRecomputeJob(cfg, dirty, scorer, metrics, logger)

	checks := stores.Checkers()
	checks["ner"] = health.NewHTTPChecker(cfg.NERURL, "/health")
	if redisClient != nil {
		checks["redis"] = health.NewRedisChecker(redisClient)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	health.NewHandler(checks, logger).Register(mux)

	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      middleware.Tracing(serviceName, middleware.Logging(logger)(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	job.Start(ctx)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		driver.Loop(ctx, cfg.IngestPollInterval, func(s ingest.Summary, err error) {
			metrics.Jobs.ObserveJobDuration(jobs.JobTypeIngestion, s.Duration.Seconds())
			if err != nil {
				metrics.Jobs.IncJobsTotal(jobs.JobTypeIngestion, jobs.StatusFailure)
				metrics.Jobs.IncJobErrors(jobs.JobTypeIngestion, errkind.Of(err).String())
				return
			}
			metrics.Jobs.IncJobsTotal(jobs.JobTypeIngestion, jobs.StatusSuccess)
		})
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-serverErr:
		logger.Error("ops server error", slog.String("error", runErr.Error()))
		stop()
	}

	<-loopDone
	job.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server forced to shutdown", slog.String("error", err.Error()))
	}

	logger.Info("indexer stopped")
	return runErr
}
