package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/genetarget/internal/db/dbtest"
	"github.com/onnwee/genetarget/internal/kv"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDBChecker(t *testing.T) {
	conn := dbtest.OpenSQLite(t)
	if err := NewDBChecker(conn).HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestBadgerChecker(t *testing.T) {
	bdb, err := kv.Open(kv.Config{InMemory: true, Logger: newTestLogger()})
	if err != nil {
		t.Fatal(err)
	}
	c := NewBadgerChecker(bdb)
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	bdb.Close()
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() on closed store should fail")
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	if err := NewHTTPChecker(srv.URL+"/", "/health").HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := NewHTTPChecker(srv.URL, "/broken").HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail on 500")
	}
}

func TestHandler(t *testing.T) {
	ok := CheckerFunc(func(context.Context) error { return nil })
	bad := CheckerFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name     string
		checkers map[string]Checker
		path     string
		wantCode int
		wantDB   string
	}{
		{"liveness ignores dependencies", map[string]Checker{"database": bad}, "/health", http.StatusOK, ""},
		{"ready", map[string]Checker{"database": ok, "ner": ok, "redis": nil}, "/ready", http.StatusOK, "ok"},
		{"not ready", map[string]Checker{"database": bad, "ner": ok}, "/ready", http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			NewHandler(tt.checkers, newTestLogger()).Register(mux)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			var resp Response
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Checks["database"] != tt.wantDB {
				t.Errorf("database check = %q, want %q", resp.Checks["database"], tt.wantDB)
			}
			if _, ok := resp.Checks["redis"]; ok {
				t.Error("nil checker should not be reported")
			}
		})
	}
}
