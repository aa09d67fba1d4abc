package factstore

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

// factPrefix namespaces fact keys: fact \0 subject \0 type \0 object.
// Subject leads so one prefix scan yields a gene's facts.
const factPrefix = "fact"

// badgerFact is the stored value.
type badgerFact struct {
	EvidenceCount int64     `json:"evidence_count"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BadgerStore keeps facts in an embedded Badger database. Badger offers no
// conditional upsert, so Merge reads the current count and writes the sum in
// one optimistic transaction that kv.DB retries on conflict.
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
	return &BadgerStore{
		kv:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func factKey(factType FactType, subject, object string) []byte {
	return kv.Key(factPrefix, subject, string(factType), object)
}

// Merge implements Store.
func (s *BadgerStore) Merge(ctx context.Context, inc Increment) (int64, error) {
	if err := inc.Validate(); err != nil {
		return 0, err
	}

	key := factKey(inc.Type, inc.Subject, inc.Object)
	var count int64
	err := s.kv.UpdateWithRetry(ctx, "merge fact", func(txn *badger.Txn) error {
		now := s.now()
		rec := badgerFact{Source: inc.Source, CreatedAt: now}

		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return errkind.Wrap(errkind.DataError, "decode fact", err)
			}
		}

		rec.EvidenceCount += inc.Delta
		rec.UpdatedAt = now
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(key, buf); err != nil {
			return err
		}
		count = rec.EvidenceCount
		return nil
	})
	if err != nil {
		s.logger.Error("fact merge failed",
			slog.String("fact_type", string(inc.Type)),
			slog.String("subject", inc.Subject),
			slog.String("object", inc.Object),
			slog.String("error", err.Error()))
		if errkind.Of(err) == errkind.Unknown {
			err = errkind.Wrap(errkind.TransientIO, "merge fact", err)
		}
		return 0, err
	}
	return count, nil
}

// Aggregate implements Store.
func (s *BadgerStore) Aggregate(ctx context.Context, subject string) (Aggregate, error) {
	facts, err := s.ListBySubject(ctx, subject)
	if err != nil {
		return Aggregate{}, err
	}
	return aggregateFacts(subject, facts), nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, factType FactType, subject, object string) (*Fact, error) {
	var f *Fact
	err := s.kv.View(func(txn *badger.Txn) error {
		item, err := txn.Get(factKey(factType, subject, object))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			var rec badgerFact
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			f = rec.toFact(factType, subject, object)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrFactNotFound
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "get fact", err)
	}
	return f, nil
}

// ListBySubject implements Store.
func (s *BadgerStore) ListBySubject(ctx context.Context, subject string) ([]Fact, error) {
	prefix := kv.Prefix(factPrefix, subject)
	var facts []Fact
	err := s.kv.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			parts := kv.Split(item.Key())
			if len(parts) != 3 {
				continue
			}
			err := item.Value(func(v []byte) error {
				var rec badgerFact
				if err := json.Unmarshal(v, &rec); err != nil {
					return err
				}
				facts = append(facts, *rec.toFact(FactType(parts[1]), parts[0], parts[2]))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "list facts", err)
	}

	// Keys sort by type then object already; keep the contract explicit.
	sort.SliceStable(facts, func(i, j int) bool {
		if facts[i].Type != facts[j].Type {
			return facts[i].Type < facts[j].Type
		}
		return facts[i].Object < facts[j].Object
	})
	return facts, nil
}

// Subjects implements Store.
func (s *BadgerStore) Subjects(ctx context.Context) ([]string, error) {
	prefix := kv.Prefix(factPrefix)
	var subjects []string
	err := s.kv.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		last := ""
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			parts := kv.Split(it.Item().Key())
			if len(parts) == 0 || parts[0] == last {
				continue
			}
			last = parts[0]
			subjects = append(subjects, last)
		}
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransientIO, "list subjects", err)
	}
	return subjects, nil
}

func (r badgerFact) toFact(factType FactType, subject, object string) *Fact {
	return &Fact{
		Type:          factType,
		Subject:       subject,
		Object:        object,
		EvidenceCount: r.EvidenceCount,
		Source:        r.Source,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// String identifies the backend in logs.
func (s *BadgerStore) String() string {
	return "badger"
}
