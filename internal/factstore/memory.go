package factstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

type factKeyTriple struct {
	factType FactType
	subject  string
	object   string
}

// InMemoryStore is a mutex-guarded Store for tests and dry runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	facts map[factKeyTriple]Fact
	now   func() time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		facts: make(map[factKeyTriple]Fact),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Merge implements Store.
func (s *InMemoryStore) Merge(ctx context.Context, inc Increment) (int64, error) {
	if err := inc.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := factKeyTriple{inc.Type, inc.Subject, inc.Object}
	now := s.now()
	f, ok := s.facts[k]
	if !ok {
		f = Fact{
			Type:      inc.Type,
			Subject:   inc.Subject,
			Object:    inc.Object,
			Source:    inc.Source,
			CreatedAt: now,
		}
	}
	f.EvidenceCount += inc.Delta
	f.UpdatedAt = now
	s.facts[k] = f
	return f.EvidenceCount, nil
}

// Aggregate implements Store.
func (s *InMemoryStore) Aggregate(ctx context.Context, subject string) (Aggregate, error) {
	facts, _ := s.ListBySubject(ctx, subject)
	return aggregateFacts(subject, facts), nil
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, factType FactType, subject, object string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facts[factKeyTriple{factType, subject, object}]
	if !ok {
		return nil, ErrFactNotFound
	}
	return &f, nil
}

// ListBySubject implements Store.
func (s *InMemoryStore) ListBySubject(ctx context.Context, subject string) ([]Fact, error) {
	s.mu.RLock()
	var facts []Fact
	for k, f := range s.facts {
		if k.subject == subject {
			facts = append(facts, f)
		}
	}
	s.mu.RUnlock()

	sort.Slice(facts, func(i, j int) bool {
		if facts[i].Type != facts[j].Type {
			return facts[i].Type < facts[j].Type
		}
		return facts[i].Object < facts[j].Object
	})
	return facts, nil
}

// Subjects implements Store.
func (s *InMemoryStore) Subjects(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for k := range s.facts {
		seen[k.subject] = struct{}{}
	}
	s.mu.RUnlock()

	subjects := make([]string, 0, len(seen))
	for subject := range seen {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}
