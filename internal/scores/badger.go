package scores

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/kv"
)

const scorePrefix = "score"

type badgerSet struct {
	Literature        *float64  `json:"literature_score,omitempty"`
	MutationFrequency *float64  `json:"mutation_frequency_score,omitempty"`
	CRISPRDependency  *float64  `json:"crispr_dependency_score,omitempty"`
	Composite         *float64  `json:"composite_score,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (b badgerSet) toSet(gene string) ComponentSet {
	return ComponentSet{
		Gene:              gene,
		Literature:        b.Literature,
		MutationFrequency: b.MutationFrequency,
		CRISPRDependency:  b.CRISPRDependency,
		Composite:         b.Composite,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func (b *badgerSet) setComponent(c Component, v float64) {
	switch c {
	case ComponentLiterature:
		b.Literature = Float(v)
	case ComponentMutationFrequency:
		b.MutationFrequency = Float(v)
	case ComponentCRISPRDependency:
		b.CRISPRDependency = Float(v)
	}
}

// BadgerStore keeps score rows in Badger. Each write is a read-modify-write
// of the gene's record inside an optimistic transaction, so concurrent
// writers of different columns for one gene both land.
type BadgerStore struct {
	kv     *kv.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewBadgerStore creates a BadgerStore.
func NewBadgerStore(db *kv.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{kv: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func readSet(txn *badger.Txn, key []byte) (badgerSet, bool, error) {
	var rec badgerSet
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
		return rec, false, errkind.Wrap(errkind.DataError, "decode scores", err)
	}
	return rec, true, nil
}

func writeSet(txn *badger.Txn, key []byte, rec badgerSet) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key, buf)
}

func transient(op string, err error) error {
	if err == nil || errkind.Of(err) != errkind.Unknown {
		return err
	}
	return errkind.Wrap(errkind.TransientIO, op, err)
}

// UpsertComponent implements Store.
func (s *BadgerStore) UpsertComponent(ctx context.Context, gene string, c Component, value float64) error {
	if err := validateUpsert(gene, c); err != nil {
		return err
	}
	key := kv.Key(scorePrefix, gene)
	err := s.kv.UpdateWithRetry(ctx, "upsert component", func(txn *badger.Txn) error {
		rec, found, err := readSet(txn, key)
		if err != nil {
			return err
		}
		now := s.now()
		if !found {
			rec.CreatedAt = now
		}
		rec.setComponent(c, value)
		rec.UpdatedAt = now
		return writeSet(txn, key, rec)
	})
	if err != nil {
		s.logger.Error("component upsert failed",
			slog.String("gene", gene),
			slog.String("component", c.String()),
			slog.String("error", err.Error()))
	}
	return transient("upsert component", err)
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, gene string) (*ComponentSet, error) {
	var (
		set   ComponentSet
		found bool
	)
	err := s.kv.View(func(txn *badger.Txn) error {
		rec, ok, err := readSet(txn, kv.Key(scorePrefix, gene))
		if err != nil {
			return err
		}
		found = ok
		set = rec.toSet(gene)
		return nil
	})
	if err != nil {
		return nil, transient("get scores", err)
	}
	if !found {
		return nil, ErrScoreNotFound
	}
	return &set, nil
}

// SetComposite implements Store.
func (s *BadgerStore) SetComposite(ctx context.Context, gene string, composite *float64) error {
	key := kv.Key(scorePrefix, gene)
	err := s.kv.UpdateWithRetry(ctx, "set composite", func(txn *badger.Txn) error {
		rec, found, err := readSet(txn, key)
		if err != nil {
			return err
		}
		if !found {
			return ErrScoreNotFound
		}
		rec.Composite = composite
		rec.UpdatedAt = s.now()
		return writeSet(txn, key, rec)
	})
	if errors.Is(err, ErrScoreNotFound) {
		return err
	}
	return transient("set composite", err)
}

func (s *BadgerStore) scan(fn func(ComponentSet)) error {
	return s.kv.View(func(txn *badger.Txn) error {
		prefix := kv.Prefix(scorePrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			parts := kv.Split(item.KeyCopy(nil))
			if len(parts) != 1 {
				continue
			}
			var rec badgerSet
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return errkind.Wrap(errkind.DataError, "decode scores", err)
			}
			fn(rec.toSet(parts[0]))
		}
		return nil
	})
}

// ListScoreable implements Store.
func (s *BadgerStore) ListScoreable(ctx context.Context) ([]string, error) {
	var genes []string
	err := s.scan(func(set ComponentSet) {
		if set.HasComponent() {
			genes = append(genes, set.Gene)
		}
	})
	if err != nil {
		return nil, transient("list scoreable", err)
	}
	sort.Strings(genes)
	return genes, nil
}

// Ranked implements Store.
func (s *BadgerStore) Ranked(ctx context.Context, limit int) ([]ComponentSet, error) {
	var sets []ComponentSet
	err := s.scan(func(set ComponentSet) {
		if set.Composite != nil {
			sets = append(sets, set)
		}
	})
	if err != nil {
		return nil, transient("rank scores", err)
	}
	return rank(sets, limit), nil
}

// String identifies the backend in logs.
func (s *BadgerStore) String() string {
	return "badger"
}

// rank sorts sets by composite descending, then gene, and truncates to limit.
func rank(sets []ComponentSet, limit int) []ComponentSet {
	sort.Slice(sets, func(i, j int) bool {
		a, b := *sets[i].Composite, *sets[j].Composite
		if a != b {
			return a > b
		}
		return sets[i].Gene < sets[j].Gene
	})
	if limit > 0 && len(sets) > limit {
		sets = sets[:limit]
	}
	return sets
}
