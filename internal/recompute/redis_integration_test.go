//go:build integration

package recompute

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	if url := os.Getenv("REDIS_URL"); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			t.Fatalf("invalid REDIS_URL: %v", err)
		}
		return redis.NewClient(opts)
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	return client
}

func newRedisTracker(t *testing.T, client *redis.Client) *RedisDirtyTracker {
	t.Helper()
	key := "genetarget:test:" + time.Now().Format("150405.000000")
	tr := NewRedisDirtyTracker(client, key)
	t.Cleanup(func() { client.Del(context.Background(), tr.key, tr.seqKey) })
	return tr
}

func TestRedisDirtyTracker(t *testing.T) {
	ctx := context.Background()
	tr := newRedisTracker(t, newRedisClient(t))

	if err := tr.MarkDirty(ctx, "KRAS", "TP53"); err != nil {
		t.Fatalf("MarkDirty() error = %v", err)
	}
	genes, cutoff, err := tr.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(genes) != 2 {
		t.Fatalf("Pending() = %v", genes)
	}

	// Re-marked immediately, within the same server microsecond if fast enough.
	if err := tr.MarkDirty(ctx, "KRAS"); err != nil {
		t.Fatal(err)
	}
	if err := tr.Clear(ctx, cutoff, genes...); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	n, err := tr.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1 (KRAS re-marked)", n)
	}
}

func TestRedisDirtyTracker_ScoresIgnoreCallerClock(t *testing.T) {
	tests := []struct {
		name string
		last int64 // preloaded counter, in microseconds
	}{
		{"fresh counter", 0},
		// A counter ahead of the server clock, as after a clock step back.
		{"counter ahead of server clock", time.Now().Add(time.Hour).UnixMicro()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			client := newRedisClient(t)
			tr := newRedisTracker(t, client)
			if tt.last > 0 {
				if err := client.Set(ctx, tr.seqKey, tt.last, 0).Err(); err != nil {
					t.Fatal(err)
				}
			}

			var prev float64
			for i, gene := range []string{"KRAS", "TP53", "EGFR", "BRAF"} {
				if err := tr.MarkDirty(ctx, gene); err != nil {
					t.Fatalf("MarkDirty(%s) error = %v", gene, err)
				}
				s, err := client.ZScore(ctx, tr.key, gene).Result()
				if err != nil {
					t.Fatal(err)
				}
				if i > 0 && s <= prev {
					t.Errorf("score for %s = %.0f, not above previous %.0f", gene, s, prev)
				}
				if tt.last > 0 && s <= float64(tt.last) {
					t.Errorf("score for %s = %.0f, not above counter %d", gene, s, tt.last)
				}
				prev = s
			}

			genes, cutoff, err := tr.Pending(ctx)
			if err != nil {
				t.Fatalf("Pending() error = %v", err)
			}
			if len(genes) != 4 || float64(cutoff.UnixMicro()) != prev {
				t.Errorf("Pending() = %v, cutoff %d, want 4 genes at %.0f", genes, cutoff.UnixMicro(), prev)
			}
		})
	}
}
