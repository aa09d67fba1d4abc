// Package cli implements targetctl, the operator command line for one-shot
// pipeline runs against the configured stores.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/onnwee/genetarget/internal/app"
	"github.com/onnwee/genetarget/internal/config"
	"github.com/onnwee/genetarget/internal/middleware"
	"github.com/onnwee/genetarget/internal/recompute"
	"github.com/onnwee/genetarget/internal/tracing"
)

const serviceName = "genetarget-targetctl"

// NewRootCommand builds the targetctl command tree.
func NewRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "targetctl",
		Short: "Operate the genetarget pipeline",
		Long: `targetctl runs one-shot pipeline steps against the configured store:
schema migration, paper seeding, literature ingestion, CRISPR imports,
score recomputation, ranking, Parquet export and Neo4j projection.

Settings come from environment variables, optionally layered over a YAML
file given with --config.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (env vars take precedence)")

	open := func(cmd *cobra.Command) (*runtime, error) {
		return openRuntime(cmd, configPath)
	}

	root.AddCommand(
		newMigrateCommand(open),
		newSeedCommand(open),
		newIngestCommand(open),
		newImportCRISPRCommand(open),
		newRecomputeCommand(open),
		newRankCommand(open),
		newExportCommand(open),
		newGraphSyncCommand(open),
	)
	return root
}

// Execute runs targetctl with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

type opener func(cmd *cobra.Command) (*runtime, error)

// runtime is what every subcommand needs: config, logger and open stores.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *app.Metrics
	stores  *app.Stores
	dirty   recompute.DirtyTracker
	redis   *redis.Client
	tracing *tracing.Provider
}

func openRuntime(cmd *cobra.Command, configPath string) (*runtime, error) {
	cfg, errs := config.Load(configPath)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	logger := middleware.NewLoggerTo(cmd.ErrOrStderr(), cfg.Env)
	ctx := cmd.Context()

	tp, err := app.NewTracing(cfg, serviceName, logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, metrics: app.NewMetrics(), tracing: tp}

	rt.stores, err = app.OpenStores(ctx, cfg, rt.metrics, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.dirty, rt.redis, err = app.NewDirtyTracker(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// Close releases everything openRuntime acquired.
func (r *runtime) Close() {
	if r.redis != nil {
		_ = r.redis.Close()
	}
	if r.stores != nil {
		if err := r.stores.Close(); err != nil {
			r.logger.Error("failed to close stores", slog.String("error", err.Error()))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracing.Shutdown(ctx); err != nil {
		r.logger.Error("tracing shutdown failed", slog.String("error", err.Error()))
	}
}

// track runs fn as one tracked job of jobType.
func (r *runtime) track(jobType string, fn func() error) error {
	done := r.metrics.Jobs.Track(jobType)
	err := fn()
	done(err)
	return err
}

// drainDirty recomputes every gene currently marked dirty.
func (r *runtime) drainDirty(cmd *cobra.Command) error {
	scorer, err := app.NewScorer(r.cfg, r.stores, r.metrics, r.logger)
	if err != nil {
		return err
	}
	job := app.NewRecomputeJob(r.cfg, r.dirty, scorer, r.metrics, r.logger)
	res, err := job.RecomputeNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recomputed: dirty=%d scored=%d nulls=%d failed=%d\n",
		res.Dirty, res.Scores.Scored, res.Scores.Nulls, res.Scores.Failed)
	return nil
}
