package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/genetarget/internal/errkind"
)

var envKeys = []string{
	"GENETARGET_ENV", "ENV", "OPS_ADDR", "STORAGE_BACKEND", "DATABASE_URL", "SQLITE_PATH",
	"BADGER_DIR", "BADGER_MAX_RETRIES", "NER_URL", "NER_TIMEOUT", "NER_MAX_TEXT_LENGTH", "NER_REQUESTS_PER_SECOND",
	"NER_CACHE_TTL", "INGEST_BATCH_SIZE", "BATCH_SIZE", "INGEST_WORKERS", "INGEST_RECORD_TIMEOUT",
	"INGEST_POLL_INTERVAL", "KEYWORDS_PATH", "MUTATION_PATTERN", "CALIBRATION_PATH",
	"SCORING_CONCURRENCY", "RECOMPUTE_INTERVAL", "REDIS_URL", "S3_ENDPOINT", "S3_REGION",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY", "NEO4J_URI", "NEO4J_USERNAME", "NEO4J_PASSWORD",
	"NEO4J_DATABASE", "TRACING_ENABLED", "TRACING_EXPORTER", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"TRACING_SAMPLE_RATE", "TRACING_INSECURE", "WEIGHTS_LITERATURE", "WEIGHTS_CRISPR_DEPENDENCY",
	"WEIGHTS_MUTATION_FREQUENCY", "CAP_LITERATURE_TOTAL", "CAP_MUTATION_COUNT", "CAP_CANCER_COUNT",
}

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "sqlite")

	cfg, errs := Load("")
	if len(errs) != 0 {
		t.Fatalf("Load() errors = %v", errs)
	}
	if cfg.Env != DefaultEnv || cfg.NERURL != DefaultNERURL || cfg.NERTimeout != DefaultNERTimeout {
		t.Errorf("Load() = %+v", cfg)
	}
	if cfg.IngestBatchSize != 50 || cfg.IngestWorkers != 4 || cfg.SQLitePath != DefaultSQLitePath {
		t.Errorf("ingest defaults = %d/%d/%s", cfg.IngestBatchSize, cfg.IngestWorkers, cfg.SQLitePath)
	}
	if cfg.BadgerMaxRetries != DefaultBadgerMaxRetries {
		t.Errorf("BadgerMaxRetries = %d, want %d", cfg.BadgerMaxRetries, DefaultBadgerMaxRetries)
	}

	cal, err := cfg.Calibration(nil)
	if err != nil {
		t.Fatalf("Calibration() error = %v", err)
	}
	if cal.Weights.CRISPRDependency != 0.4 || cal.Caps.LiteratureTotal != 10 {
		t.Errorf("Calibration() = %+v", cal)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{"postgres without url", map[string]string{}, ErrMissingDatabaseURL},
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "mongo"}, ErrInvalidBackend},
		{"bad batch size", map[string]string{"STORAGE_BACKEND": "badger", "INGEST_BATCH_SIZE": "many"}, ErrInvalidInteger},
		{"zero workers", map[string]string{"STORAGE_BACKEND": "badger", "INGEST_WORKERS": "0"}, ErrNonPositive},
		{"zero badger retries", map[string]string{"STORAGE_BACKEND": "badger", "BADGER_MAX_RETRIES": "0"}, ErrNonPositive},
		{"bad badger retries", map[string]string{"STORAGE_BACKEND": "badger", "BADGER_MAX_RETRIES": "lots"}, ErrInvalidInteger},
		{"bad timeout", map[string]string{"STORAGE_BACKEND": "badger", "NER_TIMEOUT": "30"}, ErrInvalidDuration},
		{"half s3 credentials", map[string]string{"STORAGE_BACKEND": "badger", "S3_ACCESS_KEY_ID": "AKIA"}, ErrIncompleteS3},
		{"sample rate", map[string]string{"STORAGE_BACKEND": "badger", "TRACING_SAMPLE_RATE": "2"}, ErrInvalidSamplingRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, errs := Load("")
			found := false
			for _, err := range errs {
				if errors.Is(err, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("Load() errors = %v, want %v", errs, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidWeightsAreConfigErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("WEIGHTS_LITERATURE", "0.9")

	_, errs := Load("")
	if len(errs) != 1 || !errkind.Is(errs[0], errkind.ConfigError) {
		t.Errorf("Load() errors = %v, want one ConfigError", errs)
	}
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "genetarget.yaml")
	yaml := `
env: production
storage_backend: postgres
database_url: postgres://genetarget:hunter22@db:5432/genetarget
ner_url: http://ner:8001
ner_timeout: 45s
ingest_batch_size: 100
badger_max_retries: 32
tracing_enabled: true
weights:
  literature: 0.2
  crispr_dependency: 0.5
  mutation_frequency: 0.3
caps:
  cancer_count: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("INGEST_BATCH_SIZE", "25")

	cfg, errs := Load(path)
	if len(errs) != 0 {
		t.Fatalf("Load() errors = %v", errs)
	}
	if !cfg.IsProduction() || cfg.NERURL != "http://ner:8001" || cfg.NERTimeout != 45*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.IngestBatchSize != 25 {
		t.Errorf("IngestBatchSize = %d, want env value 25", cfg.IngestBatchSize)
	}
	if cfg.BadgerMaxRetries != 32 {
		t.Errorf("BadgerMaxRetries = %d, want file value 32", cfg.BadgerMaxRetries)
	}
	if !cfg.TracingEnabled {
		t.Error("TracingEnabled = false, want true")
	}

	cal, err := cfg.Calibration(nil)
	if err != nil {
		t.Fatalf("Calibration() error = %v", err)
	}
	if cal.Weights.Literature != 0.2 || cal.Weights.CRISPRDependency != 0.5 || cal.Caps.CancerCount != 4 {
		t.Errorf("Calibration() = %+v", cal)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	cfg, errs := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg != nil || len(errs) != 1 || !errkind.Is(errs[0], errkind.ConfigError) {
		t.Errorf("Load(missing) = %v, %v", cfg, errs)
	}
}

func TestLogSummary_MasksSecrets(t *testing.T) {
	cfg := &Config{
		DatabaseURL:       "postgres://genetarget:hunter22@db:5432/genetarget",
		RedisURL:          "redis://:redispass@cache:6379/0",
		S3SecretAccessKey: "wJalrXUtnFEMI/K7MDENG",
		Neo4jPassword:     "pw",
	}
	s := cfg.LogSummary()
	if s["database_url"] != "postgres://genetarget:****@db:5432/genetarget" {
		t.Errorf("database_url = %q", s["database_url"])
	}
	if s["redis_url"] != "redis://:****@cache:6379/0" {
		t.Errorf("redis_url = %q", s["redis_url"])
	}
	if s["s3_secret_access_key"] != "wJal****" {
		t.Errorf("s3_secret_access_key = %q", s["s3_secret_access_key"])
	}
	if s["neo4j_password"] != "****" {
		t.Errorf("neo4j_password = %q", s["neo4j_password"])
	}
	if s["s3_access_key_id"] != "<not set>" {
		t.Errorf("s3_access_key_id = %q", s["s3_access_key_id"])
	}
}
