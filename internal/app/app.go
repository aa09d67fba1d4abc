// Package app turns a loaded configuration into the stores, clients and
// jobs shared by the indexer and targetctl binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/genetarget/internal/config"
	"github.com/onnwee/genetarget/internal/corpus"
	"github.com/onnwee/genetarget/internal/db"
	"github.com/onnwee/genetarget/internal/derive"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/extractor"
	"github.com/onnwee/genetarget/internal/factstore"
	"github.com/onnwee/genetarget/internal/graph"
	"github.com/onnwee/genetarget/internal/health"
	"github.com/onnwee/genetarget/internal/importer"
	"github.com/onnwee/genetarget/internal/ingest"
	"github.com/onnwee/genetarget/internal/jobs"
	"github.com/onnwee/genetarget/internal/kv"
	"github.com/onnwee/genetarget/internal/recompute"
	"github.com/onnwee/genetarget/internal/scores"
	"github.com/onnwee/genetarget/internal/scoring"
	"github.com/onnwee/genetarget/internal/stats"
	"github.com/onnwee/genetarget/internal/tracing"
)

// Metrics bundles every package's collectors.
type Metrics struct {
	Facts     *factstore.Metrics
	Extractor *extractor.Metrics
	Ingest    *ingest.Metrics
	Scoring   *scoring.Metrics
	Jobs      *jobs.Metrics
}

// NewMetrics creates unregistered metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Facts:     factstore.NewMetrics(),
		Extractor: extractor.NewMetrics(),
		Ingest:    ingest.NewMetrics(),
		Scoring:   scoring.NewMetrics(),
		Jobs:      jobs.NewMetrics(),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{m.Facts, m.Extractor, m.Ingest, m.Scoring, m.Jobs} {
		if err := r.Register(reg); err != nil {
			return err
		}
	}
	return nil
}

// Stores holds the opened backend and the repositories built on it.
type Stores struct {
	Backend  string
	Corpus   corpus.Repository
	Facts    factstore.Store
	Scores   scores.Store
	Counters *stats.UpsertStats

	sqlDB  *sql.DB
	driver db.Driver
	kvDB   *kv.DB
	logger *slog.Logger
}

// OpenStores opens the configured backend. metrics may be nil.
func OpenStores(ctx context.Context, cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stores{Backend: cfg.StorageBackend, Counters: stats.NewUpsertStats(), logger: logger}

	var facts factstore.Store
	switch cfg.StorageBackend {
	case config.BackendPostgres, config.BackendSQLite:
		s.driver = db.DriverPostgres
		url := cfg.DatabaseURL
		if cfg.StorageBackend == config.BackendSQLite {
			s.driver = db.DriverSQLite
			url = cfg.SQLitePath
		}
		conn, err := db.Open(ctx, db.Config{Driver: s.driver, URL: url, Logger: logger})
		if err != nil {
			return nil, errkind.Wrap(errkind.TransientIO, "open stores", err)
		}
		s.sqlDB = conn
		s.Corpus = corpus.NewSQLRepository(conn, s.driver, logger)
		s.Scores = scores.NewSQLStore(conn, s.driver, logger)
		facts = factstore.NewSQLStore(conn, s.driver, logger)
	case config.BackendBadger:
		kdb, err := kv.Open(kv.Config{Dir: cfg.BadgerDir, MaxRetries: cfg.BadgerMaxRetries, Logger: logger})
		if err != nil {
			return nil, err
		}
		s.kvDB = kdb
		s.Corpus = corpus.NewBadgerRepository(kdb, logger)
		s.Scores = scores.NewBadgerStore(kdb, logger)
		facts = factstore.NewBadgerStore(kdb, logger)
	default:
		return nil, errkind.Wrap(errkind.ConfigError, "open stores", config.ErrInvalidBackend)
	}

	var fm *factstore.Metrics
	if metrics != nil {
		fm = metrics.Facts
	}
	s.Facts = factstore.Instrument(facts, fm, s.Counters, logger)
	return s, nil
}

// Migrate applies the embedded schema. Badger needs none and reports zero.
func (s *Stores) Migrate(ctx context.Context) (int, error) {
	if s.sqlDB == nil {
		return 0, nil
	}
	return db.Migrate(ctx, s.sqlDB, s.driver, s.logger)
}

// Checkers returns the health checks for the opened backend.
func (s *Stores) Checkers() map[string]health.Checker {
	checks := make(map[string]health.Checker)
	if s.sqlDB != nil {
		checks["database"] = health.NewDBChecker(s.sqlDB)
	}
	if s.kvDB != nil {
		checks["badger"] = health.NewBadgerChecker(s.kvDB)
	}
	return checks
}

// Close releases the backend.
func (s *Stores) Close() error {
	s.Counters.LogSummary(s.logger, "facts")
	var errs []error
	if s.sqlDB != nil {
		errs = append(errs, s.sqlDB.Close())
	}
	if s.kvDB != nil {
		errs = append(errs, s.kvDB.Close())
	}
	return errors.Join(errs...)
}

// NewDeriver builds the fact deriver from the keyword file and mutation
// pattern settings.
func NewDeriver(cfg *config.Config) (*derive.Deriver, error) {
	var table derive.KeywordTable
	if cfg.KeywordsPath != "" {
		t, err := derive.LoadKeywordTable(cfg.KeywordsPath)
		if err != nil {
			return nil, err
		}
		table = t
	}
	return derive.New(derive.Config{Keywords: table, MutationPattern: cfg.MutationPattern})
}

// NewExtractor builds the NER client. metrics may be nil.
func NewExtractor(cfg *config.Config, metrics *Metrics, logger *slog.Logger) (*extractor.Client, error) {
	var em *extractor.Metrics
	if metrics != nil {
		em = metrics.Extractor
	}
	return extractor.NewClient(extractor.Config{
		URL:               cfg.NERURL,
		Timeout:           cfg.NERTimeout,
		MaxTextLength:     cfg.NERMaxTextLength,
		RequestsPerSecond: cfg.NERRequestsPerSecond,
		CacheTTL:          cfg.NERCacheTTL,
		Metrics:           em,
		Logger:            logger,
	})
}

// NewScorer builds the scorer with the resolved calibration.
func NewScorer(cfg *config.Config, stores *Stores, metrics *Metrics, logger *slog.Logger) (*scoring.Scorer, error) {
	cal, err := cfg.Calibration(logger)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "new scorer", err)
	}
	var sm *scoring.Metrics
	if metrics != nil {
		sm = metrics.Scoring
	}
	return scoring.NewScorer(stores.Scores, stores.Facts, scoring.Config{
		Calibration: cal,
		Concurrency: cfg.ScoringConcurrency,
		Metrics:     sm,
		Logger:      logger,
	})
}

// NewDirtyTracker returns a Redis-backed tracker when REDIS_URL is set and a
// process-local one otherwise. The client is nil in the latter case.
func NewDirtyTracker(ctx context.Context, cfg *config.Config) (recompute.DirtyTracker, *redis.Client, error) {
	if cfg.RedisURL == "" {
		return recompute.NewInMemoryDirtyTracker(), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.ConfigError, "parse redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, errkind.Wrap(errkind.TransientIO, "connect redis", err)
	}
	return recompute.NewRedisDirtyTracker(client, ""), client, nil
}

// NewTracing installs the tracer provider for service.
func NewTracing(cfg *config.Config, service string, logger *slog.Logger) (*tracing.Provider, error) {
	return tracing.NewProvider(tracing.Config{
		ServiceName:  service,
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporter,
		OTLPEndpoint: cfg.TracingEndpoint,
		SamplingRate: cfg.TracingSampleRate,
		InsecureMode: cfg.TracingInsecure,
		Logger:       logger,
	})
}

// SourceConfig maps the S3 settings onto importer sources.
func SourceConfig(cfg *config.Config) importer.SourceConfig {
	return importer.SourceConfig{
		S3: importer.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		},
	}
}

// ErrMissingNeo4jURI is returned by NewGraphWriter when NEO4J_URI is unset.
var ErrMissingNeo4jURI = errors.New("NEO4J_URI is required for graph sync")

// NewGraphWriter connects to Neo4j and verifies connectivity.
func NewGraphWriter(ctx context.Context, cfg *config.Config) (*graph.Neo4jWriter, error) {
	if cfg.Neo4jURI == "" {
		return nil, errkind.Wrap(errkind.ConfigError, "new graph writer", ErrMissingNeo4jURI)
	}
	w, err := graph.NewNeo4jWriter(graph.Neo4jConfig{
		URI:      cfg.Neo4jURI,
		Username: cfg.Neo4jUsername,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "new graph writer", err)
	}
	if err := w.VerifyConnectivity(ctx); err != nil {
		_ = w.Close(ctx)
		return nil, errkind.Wrap(errkind.TransientIO, "new graph writer", fmt.Errorf("neo4j unreachable: %w", err))
	}
	return w, nil
}

// NewIngestDriver builds the ingestion driver. maxBatches of zero drains
// the corpus.
func NewIngestDriver(cfg *config.Config, stores *Stores, ext extractor.Extractor, deriver *derive.Deriver,
	dirty ingest.DirtyMarker, maxBatches int, metrics *Metrics, logger *slog.Logger) *ingest.Driver {
	var im *ingest.Metrics
	if metrics != nil {
		im = metrics.Ingest
	}
	return ingest.NewDriver(ingest.Config{
		BatchSize:     cfg.IngestBatchSize,
		Workers:       cfg.IngestWorkers,
		RecordTimeout: cfg.IngestRecordTimeout,
		MaxBatches:    maxBatches,
		Logger:        logger,
		Metrics:       im,
	}, stores.Corpus, ext, deriver, stores.Facts, dirty)
}

// NewRecomputeJob builds the periodic recompute job.
func NewRecomputeJob(cfg *config.Config, dirty recompute.DirtyTracker, scorer recompute.Scorer, metrics *Metrics, logger *slog.Logger) *recompute.Job {
	jc := recompute.JobConfig{Interval: cfg.RecomputeInterval, Logger: logger}
	if metrics != nil {
		jc.JobMetrics = metrics.Jobs
	}
	return recompute.NewJob(jc, dirty, scorer)
}
