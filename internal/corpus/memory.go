package corpus

import (
	"context"
	"sort"
	"sync"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/mention"
)

type mentionKey struct {
	paperID, gene, text string
	start               int
}

// InMemoryRepository is a mutex-guarded Repository for tests.
type InMemoryRepository struct {
	mu       sync.RWMutex
	papers   map[string]Paper
	mentions map[mentionKey]mention.GeneMention
	counts   map[string]int
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		papers:   make(map[string]Paper),
		mentions: make(map[mentionKey]mention.GeneMention),
		counts:   make(map[string]int),
	}
}

// AddPapers implements Repository.
func (r *InMemoryRepository) AddPapers(ctx context.Context, papers []Paper) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inserted := 0
	for _, p := range papers {
		if p.ID == "" {
			return inserted, errkind.New(errkind.DataError, "add papers", "paper id is required")
		}
		if _, ok := r.papers[p.ID]; ok {
			continue
		}
		p.IngestedAt = normalizeTime(p.IngestedAt)
		r.papers[p.ID] = p
		inserted++
	}
	return inserted, nil
}

// PullUnprocessed implements Repository.
func (r *InMemoryRepository) PullUnprocessed(ctx context.Context, cursor Cursor, limit int) ([]Paper, error) {
	r.mu.RLock()
	var out []Paper
	for id, p := range r.papers {
		if r.counts[id] == 0 && p.HasText() && cursor.before(p) {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()

	sortPullOrder(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordGeneMentions implements Repository.
func (r *InMemoryRepository) RecordGeneMentions(ctx context.Context, mentions []mention.GeneMention) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range mentions {
		if _, ok := r.papers[m.PaperID]; !ok {
			return 0, errkind.New(errkind.IntegrityViolation, "record gene mentions", "unknown paper "+m.PaperID)
		}
	}

	inserted := 0
	for _, m := range mentions {
		k := mentionKey{m.PaperID, m.GeneSymbol, m.MentionText, m.Start}
		if _, ok := r.mentions[k]; ok {
			continue
		}
		r.mentions[k] = m
		r.counts[m.PaperID]++
		inserted++
	}
	return inserted, nil
}

// MentionCount implements Repository.
func (r *InMemoryRepository) MentionCount(ctx context.Context, paperID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.papers[paperID]; !ok {
		return 0, ErrPaperNotFound
	}
	return r.counts[paperID], nil
}

func sortPullOrder(papers []Paper) {
	sort.Slice(papers, func(i, j int) bool {
		if !papers[i].IngestedAt.Equal(papers[j].IngestedAt) {
			return papers[i].IngestedAt.After(papers[j].IngestedAt)
		}
		return papers[i].ID > papers[j].ID
	})
}
