package scores

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a mutex-guarded Store for tests and dry runs.
type InMemoryStore struct {
	mu   sync.RWMutex
	sets map[string]ComponentSet
	now  func() time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sets: make(map[string]ComponentSet),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// UpsertComponent implements Store.
func (s *InMemoryStore) UpsertComponent(ctx context.Context, gene string, c Component, value float64) error {
	if err := validateUpsert(gene, c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	set, ok := s.sets[gene]
	if !ok {
		set = ComponentSet{Gene: gene, CreatedAt: now}
	}
	set.set(c, Float(value))
	set.UpdatedAt = now
	s.sets[gene] = set
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, gene string) (*ComponentSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.sets[gene]
	if !ok {
		return nil, ErrScoreNotFound
	}
	return &set, nil
}

// SetComposite implements Store.
func (s *InMemoryStore) SetComposite(ctx context.Context, gene string, composite *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[gene]
	if !ok {
		return ErrScoreNotFound
	}
	if composite != nil {
		composite = Float(*composite)
	}
	set.Composite = composite
	set.UpdatedAt = s.now()
	s.sets[gene] = set
	return nil
}

// ListScoreable implements Store.
func (s *InMemoryStore) ListScoreable(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	var genes []string
	for gene, set := range s.sets {
		if set.HasComponent() {
			genes = append(genes, gene)
		}
	}
	s.mu.RUnlock()

	sort.Strings(genes)
	return genes, nil
}

// Ranked implements Store.
func (s *InMemoryStore) Ranked(ctx context.Context, limit int) ([]ComponentSet, error) {
	s.mu.RLock()
	var sets []ComponentSet
	for _, set := range s.sets {
		if set.Composite != nil {
			sets = append(sets, set)
		}
	}
	s.mu.RUnlock()

	return rank(sets, limit), nil
}
