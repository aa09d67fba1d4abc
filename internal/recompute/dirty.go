package recompute

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DirtyTracker records genes whose evidence or components changed since
// their composite was last computed.
//
// Clear takes the cutoff returned by Pending: a gene marked again after the
// cutoff stays dirty, so a mark that races with a recompute is never lost.
type DirtyTracker interface {
	MarkDirty(ctx context.Context, genes ...string) error
	Pending(ctx context.Context) (genes []string, cutoff time.Time, err error)
	Clear(ctx context.Context, cutoff time.Time, genes ...string) error
	Count(ctx context.Context) (int, error)
}

// InMemoryDirtyTracker is a process-local DirtyTracker.
type InMemoryDirtyTracker struct {
	mu    sync.Mutex
	flags map[string]time.Time // gene -> last marked
	last  time.Time
	now   func() time.Time
}

// NewInMemoryDirtyTracker creates an empty tracker.
func NewInMemoryDirtyTracker() *InMemoryDirtyTracker {
	return &InMemoryDirtyTracker{
		flags: make(map[string]time.Time),
		now:   time.Now,
	}
}

// MarkDirty implements DirtyTracker.
func (t *InMemoryDirtyTracker) MarkDirty(_ context.Context, genes ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Marks are strictly increasing even when the clock does not advance.
	now := t.now()
	if !now.After(t.last) {
		now = t.last.Add(time.Nanosecond)
	}
	t.last = now
	for _, g := range genes {
		t.flags[g] = now
	}
	return nil
}

// Pending implements DirtyTracker. Genes are sorted; the cutoff is the time
// of the latest mark.
func (t *InMemoryDirtyTracker) Pending(_ context.Context) ([]string, time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.last
	genes := make([]string, 0, len(t.flags))
	for g := range t.flags {
		genes = append(genes, g)
	}
	sort.Strings(genes)
	return genes, cutoff, nil
}

// Clear implements DirtyTracker.
func (t *InMemoryDirtyTracker) Clear(_ context.Context, cutoff time.Time, genes ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, g := range genes {
		if marked, ok := t.flags[g]; ok && !marked.After(cutoff) {
			delete(t.flags, g)
		}
	}
	return nil
}

// Count implements DirtyTracker.
func (t *InMemoryDirtyTracker) Count(_ context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.flags), nil
}

// IsDirty reports whether gene is marked.
func (t *InMemoryDirtyTracker) IsDirty(gene string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.flags[gene]
	return ok
}

// DefaultRedisKey is the sorted set holding dirty genes.
const DefaultRedisKey = "genetarget:dirty_genes"

// markScript scores genes with the Redis server clock in microseconds. The
// score is kept strictly above the last one issued (KEYS[2]) so marks are
// ordered even when writers' clocks disagree or the server clock steps back.
var markScript = redis.NewScript(`
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000000 + tonumber(t[2])
local last = tonumber(redis.call('GET', KEYS[2]) or '0')
if now <= last then
	now = last + 1
end
local s = string.format('%.0f', now)
redis.call('SET', KEYS[2], s)
for _, gene in ipairs(ARGV) do
	redis.call('ZADD', KEYS[1], s, gene)
end
return s
`)

// pendingScript returns the last issued score and every gene at or below it.
var pendingScript = redis.NewScript(`
local last = redis.call('GET', KEYS[2]) or '0'
return {last, redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', last)}
`)

// clearScript removes each member whose score is at or below the cutoff.
var clearScript = redis.NewScript(`
local removed = 0
for i, gene in ipairs(ARGV) do
	if i > 1 then
		local score = redis.call('ZSCORE', KEYS[1], gene)
		if score and tonumber(score) <= tonumber(ARGV[1]) then
			removed = removed + redis.call('ZREM', KEYS[1], gene)
		end
	end
end
return removed
`)

// RedisDirtyTracker shares the dirty set between the indexer and operator
// commands through a Redis sorted set. Scores come from the server, never
// from the caller's clock.
type RedisDirtyTracker struct {
	client redis.UniversalClient
	key    string
	seqKey string
}

// NewRedisDirtyTracker creates a tracker on key (DefaultRedisKey if empty).
func NewRedisDirtyTracker(client redis.UniversalClient, key string) *RedisDirtyTracker {
	if key == "" {
		key = DefaultRedisKey
	}
	// The hash tag puts the counter in the same cluster slot as key.
	return &RedisDirtyTracker{client: client, key: key, seqKey: "{" + key + "}:last"}
}

func (t *RedisDirtyTracker) keys() []string {
	return []string{t.key, t.seqKey}
}

// MarkDirty implements DirtyTracker.
func (t *RedisDirtyTracker) MarkDirty(ctx context.Context, genes ...string) error {
	if len(genes) == 0 {
		return nil
	}
	args := make([]any, len(genes))
	for i, g := range genes {
		args[i] = g
	}
	return markScript.Run(ctx, t.client, t.keys(), args...).Err()
}

// Pending implements DirtyTracker. The cutoff is the score of the latest
// mark, as a microsecond timestamp.
func (t *RedisDirtyTracker) Pending(ctx context.Context) ([]string, time.Time, error) {
	res, err := pendingScript.Run(ctx, t.client, t.keys()).Slice()
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(res) != 2 {
		return nil, time.Time{}, fmt.Errorf("unexpected pending reply of %d elements", len(res))
	}
	last, ok := res[0].(string)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unexpected pending cutoff %T", res[0])
	}
	micros, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("invalid pending cutoff %q: %w", last, err)
	}
	members, _ := res[1].([]any)
	genes := make([]string, 0, len(members))
	for _, m := range members {
		if g, ok := m.(string); ok {
			genes = append(genes, g)
		}
	}
	sort.Strings(genes)
	return genes, time.UnixMicro(micros), nil
}

// Clear implements DirtyTracker.
func (t *RedisDirtyTracker) Clear(ctx context.Context, cutoff time.Time, genes ...string) error {
	if len(genes) == 0 {
		return nil
	}
	args := make([]any, 0, len(genes)+1)
	args = append(args, cutoff.UnixMicro())
	for _, g := range genes {
		args = append(args, g)
	}
	return clearScript.Run(ctx, t.client, t.keys(), args...).Err()
}

// Count implements DirtyTracker.
func (t *RedisDirtyTracker) Count(ctx context.Context) (int, error) {
	n, err := t.client.ZCard(ctx, t.key).Result()
	return int(n), err
}
