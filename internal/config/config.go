// Package config loads and validates settings for the genetarget binaries.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/scoring"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
)

// Config holds all configuration values.
type Config struct {
	Env     string `koanf:"env"`
	OpsAddr string `koanf:"ops_addr"`

	// Storage
	StorageBackend string `koanf:"storage_backend"`
	DatabaseURL    string `koanf:"database_url"`
	SQLitePath     string `koanf:"sqlite_path"`
	BadgerDir      string `koanf:"badger_dir"`
	// BadgerMaxRetries bounds optimistic retries per Badger write. Writers
	// that exhaust it fail with a TransientIO error.
	BadgerMaxRetries int `koanf:"badger_max_retries"`

	// NER service
	NERURL               string        `koanf:"ner_url"`
	NERTimeout           time.Duration `koanf:"ner_timeout"`
	NERMaxTextLength     int           `koanf:"ner_max_text_length"`
	NERRequestsPerSecond float64       `koanf:"ner_requests_per_second"`
	NERCacheTTL          time.Duration `koanf:"ner_cache_ttl"`

	// Ingestion
	IngestBatchSize     int           `koanf:"ingest_batch_size"`
	IngestWorkers       int           `koanf:"ingest_workers"`
	IngestRecordTimeout time.Duration `koanf:"ingest_record_timeout"`
	IngestPollInterval  time.Duration `koanf:"ingest_poll_interval"`
	KeywordsPath        string        `koanf:"keywords_path"`
	MutationPattern     string        `koanf:"mutation_pattern"`

	// Scoring
	CalibrationPath    string `koanf:"calibration_path"`
	ScoringOverrides   scoring.CalibrationConfig
	ScoringConcurrency int           `koanf:"scoring_concurrency"`
	RecomputeInterval  time.Duration `koanf:"recompute_interval"`
	RedisURL           string        `koanf:"redis_url"`

	// S3-compatible storage for bulk feeds
	S3Endpoint        string `koanf:"s3_endpoint"`
	S3Region          string `koanf:"s3_region"`
	S3AccessKeyID     string `koanf:"s3_access_key_id"`
	S3SecretAccessKey string `koanf:"s3_secret_access_key"`

	// Neo4j graph projection
	Neo4jURI      string `koanf:"neo4j_uri"`
	Neo4jUsername string `koanf:"neo4j_username"`
	Neo4jPassword string `koanf:"neo4j_password"`
	Neo4jDatabase string `koanf:"neo4j_database"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	TracingEndpoint   string  `koanf:"tracing_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL  = errors.New("DATABASE_URL is required for the postgres backend")
	ErrInvalidBackend      = errors.New("STORAGE_BACKEND must be postgres, sqlite or badger")
	ErrMissingNERURL       = errors.New("NER_URL is required")
	ErrInvalidInteger      = errors.New("must be a valid integer")
	ErrInvalidDuration     = errors.New("must be a valid duration")
	ErrInvalidFloat        = errors.New("must be a valid number")
	ErrNonPositive         = errors.New("must be greater than zero")
	ErrIncompleteS3        = errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	ErrInvalidSamplingRate = errors.New("TRACING_SAMPLE_RATE must be between 0 and 1")
)

// Defaults for non-secret configuration.
const (
	DefaultEnv                 = "development"
	DefaultOpsAddr             = ":9090"
	DefaultStorageBackend      = BackendPostgres
	DefaultSQLitePath          = "genetarget.db"
	DefaultBadgerDir           = "data/badger"
	DefaultBadgerMaxRetries    = 8
	DefaultNERURL              = "http://localhost:8001"
	DefaultNERTimeout          = 30 * time.Second
	DefaultNERMaxTextLength    = 50000
	DefaultNERCacheTTL         = 10 * time.Minute
	DefaultIngestBatchSize     = 50
	DefaultIngestWorkers       = 4
	DefaultIngestRecordTimeout = 2 * time.Minute
	DefaultIngestPollInterval  = time.Minute
	DefaultScoringConcurrency  = 8
	DefaultRecomputeInterval   = 30 * time.Second
	DefaultTracingExporter     = "otlp-http"
	DefaultTracingSampleRate   = 0.1
)

// loader reads one setting: env var first, then the file, then the default.
// Parse failures are collected rather than returned.
type loader struct {
	k    *koanf.Koanf
	errs []error
}

func (l *loader) raw(key string, envKeys []string) (string, bool) {
	for _, env := range envKeys {
		if v := os.Getenv(env); v != "" {
			return v, true
		}
	}
	if l.k.Exists(key) {
		return l.k.String(key), true
	}
	return "", false
}

func (l *loader) str(key string, def string, envKeys ...string) string {
	if v, ok := l.raw(key, envKeys); ok && v != "" {
		return v
	}
	return def
}

func (l *loader) int(key string, def int, envKeys ...string) int {
	v, ok := l.raw(key, envKeys)
	if !ok || v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s %w", name(key, envKeys), ErrInvalidInteger))
		return def
	}
	return i
}

func (l *loader) float(key string, def float64, envKeys ...string) float64 {
	if p := l.optFloat(key, envKeys...); p != nil {
		return *p
	}
	return def
}

func (l *loader) optFloat(key string, envKeys ...string) *float64 {
	v, ok := l.raw(key, envKeys)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s %w", name(key, envKeys), ErrInvalidFloat))
		return nil
	}
	return &f
}

func (l *loader) duration(key string, def time.Duration, envKeys ...string) time.Duration {
	v, ok := l.raw(key, envKeys)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s %w", name(key, envKeys), ErrInvalidDuration))
		return def
	}
	return d
}

func (l *loader) bool(key string, def bool, envKeys ...string) bool {
	v, ok := l.raw(key, envKeys)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return def
}

func name(key string, envKeys []string) string {
	if len(envKeys) > 0 {
		return envKeys[0]
	}
	return key
}

// Load reads configuration from environment variables and an optional YAML
// file. Environment variables take precedence over file values. It returns
// the config and every validation error found (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{errkind.Wrap(errkind.ConfigError, "load config",
				fmt.Errorf("failed to load config file %s: %w", configFilePath, err))}
		}
	}
	l := &loader{k: k}

	cfg := &Config{
		Env:     l.str("env", DefaultEnv, "GENETARGET_ENV", "ENV"),
		OpsAddr: l.str("ops_addr", DefaultOpsAddr, "OPS_ADDR"),

		StorageBackend:   strings.ToLower(l.str("storage_backend", DefaultStorageBackend, "STORAGE_BACKEND")),
		DatabaseURL:      l.str("database_url", "", "DATABASE_URL"),
		SQLitePath:       l.str("sqlite_path", DefaultSQLitePath, "SQLITE_PATH"),
		BadgerDir:        l.str("badger_dir", DefaultBadgerDir, "BADGER_DIR"),
		BadgerMaxRetries: l.int("badger_max_retries", DefaultBadgerMaxRetries, "BADGER_MAX_RETRIES"),

		NERURL:               l.str("ner_url", DefaultNERURL, "NER_URL"),
		NERTimeout:           l.duration("ner_timeout", DefaultNERTimeout, "NER_TIMEOUT"),
		NERMaxTextLength:     l.int("ner_max_text_length", DefaultNERMaxTextLength, "NER_MAX_TEXT_LENGTH"),
		NERRequestsPerSecond: l.float("ner_requests_per_second", 0, "NER_REQUESTS_PER_SECOND"),
		NERCacheTTL:          l.duration("ner_cache_ttl", DefaultNERCacheTTL, "NER_CACHE_TTL"),

		IngestBatchSize:     l.int("ingest_batch_size", DefaultIngestBatchSize, "INGEST_BATCH_SIZE", "BATCH_SIZE"),
		IngestWorkers:       l.int("ingest_workers", DefaultIngestWorkers, "INGEST_WORKERS"),
		IngestRecordTimeout: l.duration("ingest_record_timeout", DefaultIngestRecordTimeout, "INGEST_RECORD_TIMEOUT"),
		IngestPollInterval:  l.duration("ingest_poll_interval", DefaultIngestPollInterval, "INGEST_POLL_INTERVAL"),
		KeywordsPath:        l.str("keywords_path", "", "KEYWORDS_PATH"),
		MutationPattern:     l.str("mutation_pattern", "", "MUTATION_PATTERN"),

		CalibrationPath:    l.str("calibration_path", "", "CALIBRATION_PATH"),
		ScoringConcurrency: l.int("scoring_concurrency", DefaultScoringConcurrency, "SCORING_CONCURRENCY"),
		RecomputeInterval:  l.duration("recompute_interval", DefaultRecomputeInterval, "RECOMPUTE_INTERVAL"),
		RedisURL:           l.str("redis_url", "", "REDIS_URL"),

		S3Endpoint:        l.str("s3_endpoint", "", "S3_ENDPOINT"),
		S3Region:          l.str("s3_region", "", "S3_REGION"),
		S3AccessKeyID:     l.str("s3_access_key_id", "", "S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: l.str("s3_secret_access_key", "", "S3_SECRET_ACCESS_KEY"),

		Neo4jURI:      l.str("neo4j_uri", "", "NEO4J_URI"),
		Neo4jUsername: l.str("neo4j_username", "", "NEO4J_USERNAME"),
		Neo4jPassword: l.str("neo4j_password", "", "NEO4J_PASSWORD"),
		Neo4jDatabase: l.str("neo4j_database", "", "NEO4J_DATABASE"),

		TracingEnabled:    l.bool("tracing_enabled", false, "TRACING_ENABLED"),
		TracingExporter:   l.str("tracing_exporter", DefaultTracingExporter, "TRACING_EXPORTER"),
		TracingEndpoint:   l.str("tracing_endpoint", "", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingSampleRate: l.float("tracing_sample_rate", DefaultTracingSampleRate, "TRACING_SAMPLE_RATE"),
		TracingInsecure:   l.bool("tracing_insecure", false, "TRACING_INSECURE"),
	}

	o := &cfg.ScoringOverrides
	o.Weights.Literature = l.optFloat("weights.literature", "WEIGHTS_LITERATURE")
	o.Weights.CRISPRDependency = l.optFloat("weights.crispr_dependency", "WEIGHTS_CRISPR_DEPENDENCY")
	o.Weights.MutationFrequency = l.optFloat("weights.mutation_frequency", "WEIGHTS_MUTATION_FREQUENCY")
	o.Caps.LiteratureTotal = l.optFloat("caps.literature_total", "CAP_LITERATURE_TOTAL")
	o.Caps.MutationCount = l.optFloat("caps.mutation_count", "CAP_MUTATION_COUNT")
	o.Caps.CancerCount = l.optFloat("caps.cancer_count", "CAP_CANCER_COUNT")

	errs := append(l.errs, cfg.Validate()...)
	return cfg, errs
}

// Calibration resolves scoring weights and caps: defaults, then the
// calibration file, then individual overrides from env or the config file.
func (c *Config) Calibration(logger *slog.Logger) (scoring.Calibration, error) {
	base, err := scoring.LoadCalibration(c.CalibrationPath, logger)
	if err != nil {
		return base, err
	}
	merged := scoring.MergeCalibration(base, c.ScoringOverrides)
	if err := merged.Validate(); err != nil {
		return base, err
	}
	return merged, nil
}

// Validate checks the loaded values. Every returned error is a ConfigError.
func (c *Config) Validate() []error {
	var errs []error
	add := func(err error) {
		errs = append(errs, errkind.Wrap(errkind.ConfigError, "validate config", err))
	}

	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			add(ErrMissingDatabaseURL)
		}
	case BackendSQLite, BackendBadger:
	default:
		add(fmt.Errorf("%w: %q", ErrInvalidBackend, c.StorageBackend))
	}

	if strings.TrimSpace(c.NERURL) == "" {
		add(ErrMissingNERURL)
	}
	for _, p := range []struct {
		key   string
		value float64
	}{
		{"BADGER_MAX_RETRIES", float64(c.BadgerMaxRetries)},
		{"NER_TIMEOUT", float64(c.NERTimeout)},
		{"NER_MAX_TEXT_LENGTH", float64(c.NERMaxTextLength)},
		{"INGEST_BATCH_SIZE", float64(c.IngestBatchSize)},
		{"INGEST_WORKERS", float64(c.IngestWorkers)},
		{"INGEST_RECORD_TIMEOUT", float64(c.IngestRecordTimeout)},
		{"INGEST_POLL_INTERVAL", float64(c.IngestPollInterval)},
		{"SCORING_CONCURRENCY", float64(c.ScoringConcurrency)},
		{"RECOMPUTE_INTERVAL", float64(c.RecomputeInterval)},
	} {
		if p.value <= 0 {
			add(fmt.Errorf("%s %w", p.key, ErrNonPositive))
		}
	}

	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		add(ErrIncompleteS3)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		add(ErrInvalidSamplingRate)
	}

	if _, err := c.Calibration(slog.New(slog.DiscardHandler)); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"env":                  c.Env,
		"ops_addr":             c.OpsAddr,
		"storage_backend":      c.StorageBackend,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"sqlite_path":          c.SQLitePath,
		"badger_dir":           c.BadgerDir,
		"badger_max_retries":   strconv.Itoa(c.BadgerMaxRetries),
		"ner_url":              c.NERURL,
		"ner_timeout":          c.NERTimeout.String(),
		"ingest_batch_size":    strconv.Itoa(c.IngestBatchSize),
		"ingest_workers":       strconv.Itoa(c.IngestWorkers),
		"ingest_poll_interval": c.IngestPollInterval.String(),
		"keywords_path":        c.KeywordsPath,
		"calibration_path":     c.CalibrationPath,
		"recompute_interval":   c.RecomputeInterval.String(),
		"redis_url":            maskDatabaseURL(c.RedisURL),
		"s3_endpoint":          c.S3Endpoint,
		"s3_access_key_id":     maskSecret(c.S3AccessKeyID),
		"s3_secret_access_key": maskSecret(c.S3SecretAccessKey),
		"neo4j_uri":            c.Neo4jURI,
		"neo4j_password":       maskSecret(c.Neo4jPassword),
		"tracing_enabled":      strconv.FormatBool(c.TracingEnabled),
		"tracing_exporter":     c.TracingExporter,
		"tracing_sample_rate":  strconv.FormatFloat(c.TracingSampleRate, 'f', -1, 64),
	}
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// maskSecret shows only the first 4 characters of a secret. Secrets shorter
// than 8 characters are fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]
	return scheme + user + ":****" + hostAndPath
}
