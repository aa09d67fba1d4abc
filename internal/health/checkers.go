// Package health provides dependency checks and the liveness and readiness
// endpoints served on the ops listener.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/genetarget/internal/kv"
)

// Checker is a dependency that can be probed.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DBChecker pings a SQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a database checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck implements Checker.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RedisChecker sends PING.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a Redis checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck implements Checker.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// BadgerChecker opens a read transaction on the embedded store.
type BadgerChecker struct {
	db *kv.DB
}

// NewBadgerChecker creates a Badger checker.
func NewBadgerChecker(db *kv.DB) *BadgerChecker {
	return &BadgerChecker{db: db}
}

// HealthCheck implements Checker.
func (b *BadgerChecker) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.db.Badger().IsClosed() {
		return errors.New("badger is closed")
	}
	return b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("health\x00probe"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// HTTPChecker probes an HTTP dependency such as the NER service.
type HTTPChecker struct {
	url    string
	client *http.Client
}

// NewHTTPChecker checks baseURL + path and expects a 2xx response.
func NewHTTPChecker(baseURL, path string) *HTTPChecker {
	return &HTTPChecker{
		url: strings.TrimRight(baseURL, "/") + path,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck implements Checker.
func (h *HTTPChecker) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, h.url)
	}
	return nil
}
