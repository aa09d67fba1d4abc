// Package db opens the relational stores backing the pipeline and applies the
// embedded schema. Postgres (lib/pq) is the production driver; SQLite
// (modernc.org/sqlite) serves single-node deployments and tests.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Driver names a supported SQL engine.
type Driver string

// Supported drivers. The values double as database/sql driver names.
const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Default pool settings.
const (
	DefaultMaxOpenConns    = 16
	DefaultMaxIdleConns    = 4
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultBusyTimeout     = 10 * time.Second
)

var (
	// ErrUnsupportedDriver is returned for drivers other than postgres and sqlite.
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	// ErrEmptyURL is returned when no connection string is configured.
	ErrEmptyURL = errors.New("database URL cannot be empty")
)

// Config holds connection settings.
type Config struct {
	Driver          Driver
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          *slog.Logger
}

// ParseDriver validates a driver name from configuration.
func ParseDriver(s string) (Driver, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(s))) {
	case DriverPostgres, "postgresql":
		return DriverPostgres, nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, s)
	}
}

// Open opens and pings a database. SQLite connections get WAL journaling,
// a busy timeout and foreign keys; the pool is capped at one writer.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = DefaultMaxOpenConns
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = DefaultConnMaxLifetime
	}

	switch cfg.Driver {
	case DriverPostgres:
	case DriverSQLite:
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	dsn := cfg.URL
	if cfg.Driver == DriverSQLite {
		dsn = SQLiteDSN(cfg.URL)
	}

	db, err := sql.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	cfg.Logger.Info("database connected",
		slog.String("driver", string(cfg.Driver)),
		slog.Int("max_open_conns", cfg.MaxOpenConns))

	return db, nil
}

// sqlitePragmas are applied by the driver to every new connection, so a
// connection recycled by ConnMaxLifetime keeps them.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	fmt.Sprintf("busy_timeout(%d)", DefaultBusyTimeout.Milliseconds()),
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

// SQLiteDSN appends the connection pragmas to a SQLite path or file: URI.
// Pragmas already named in the URL are left to the caller's value.
func SQLiteDSN(url string) string {
	var b strings.Builder
	b.WriteString(url)
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		name := p[:strings.Index(p, "(")]
		if strings.Contains(url, "_pragma="+name+"(") {
			continue
		}
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Rebind rewrites '?' placeholders into the driver's native form.
// Queries are written once with '?' and rebound for Postgres ($1, $2, ...).
// Placeholders inside single-quoted literals are left alone.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
