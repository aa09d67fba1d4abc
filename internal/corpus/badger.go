package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/kv"
	"github.com/onnwee/genetarget/internal/mention"
)

// Key layout:
//
//	paper   \0 id                              -> badgerPaper
//	pending \0 ts \0 id                        -> empty; papers with text and no mentions
//	mention \0 paper \0 gene \0 text \0 start -> badgerMention
//
// ts is the ingestion time as a fixed-width decimal, so a reverse scan of
// pending keys yields pull order (ingested_at DESC, id DESC).
const (
	paperPrefix   = "paper"
	pendingPrefix = "pending"
	mentionPrefix = "mention"
)

type badgerPaper struct {
	Title      string    `json:"title"`
	Abstract   string    `json:"abstract"`
	IngestedAt time.Time `json:"ingested_at"`
}

type badgerMention struct {
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// BadgerRepository keeps the corpus in Badger.
type BadgerRepository struct {
	kv     *kv.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewBadgerRepository creates a BadgerRepository.
func NewBadgerRepository(db *kv.DB, logger *slog.Logger) *BadgerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerRepository{kv: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func mentionKeyBytes(m mention.GeneMention) []byte {
	return kv.Key(mentionPrefix, m.PaperID, m.GeneSymbol, m.MentionText, strconv.Itoa(m.Start))
}

// pendingKey orders by time then id. Flipping the sign bit keeps pre-1970
// timestamps sorted below later ones.
func pendingKey(ingestedAt time.Time, id string) []byte {
	ts := uint64(ingestedAt.UnixNano()) ^ (1 << 63)
	return kv.Key(pendingPrefix, fmt.Sprintf("%020d", ts), id)
}

func keyExists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getPaper(txn *badger.Txn, id string) (*badgerPaper, error) {
	item, err := txn.Get(kv.Key(paperPrefix, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec badgerPaper
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
		return nil, errkind.Wrap(errkind.DataError, "decode paper", err)
	}
	return &rec, nil
}

func hasMentions(txn *badger.Txn, paperID string) bool {
	prefix := kv.Prefix(mentionPrefix, paperID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	it.Seek(prefix)
	return it.ValidForPrefix(prefix)
}

// transient labels unclassified Badger errors TransientIO. A transaction
// that is too big can never succeed on retry and is a DataError.
func transient(op string, err error) error {
	if err == nil || errkind.Of(err) != errkind.Unknown {
		return err
	}
	if errors.Is(err, badger.ErrTxnTooBig) {
		return errkind.Wrap(errkind.DataError, op, err)
	}
	return errkind.Wrap(errkind.TransientIO, op, err)
}

// AddPapers implements Repository. Papers are committed in as many
// transactions as Badger's size limit requires; on error the count of papers
// already committed is returned with it.
func (r *BadgerRepository) AddPapers(ctx context.Context, papers []Paper) (int, error) {
	for _, p := range papers {
		if p.ID == "" {
			return 0, errkind.New(errkind.DataError, "add papers", "paper id is required")
		}
	}

	inserted := 0
	for next := 0; next < len(papers); {
		n, advanced, err := r.addChunk(ctx, papers[next:])
		if err != nil {
			return inserted, transient("add papers", err)
		}
		inserted += n
		next += advanced
	}
	return inserted, nil
}

// addChunk writes papers until the transaction is full and reports how many
// were inserted and how many were consumed.
func (r *BadgerRepository) addChunk(ctx context.Context, papers []Paper) (inserted, consumed int, err error) {
	err = r.kv.UpdateWithRetry(ctx, "add papers", func(txn *badger.Txn) error {
		inserted, consumed = 0, 0
		for _, p := range papers {
			key := kv.Key(paperPrefix, p.ID)
			exists, err := keyExists(txn, key)
			if err != nil {
				return err
			}
			if exists {
				consumed++
				continue
			}
			p.IngestedAt = normalizeTime(p.IngestedAt)
			buf, err := json.Marshal(badgerPaper{Title: p.Title, Abstract: p.Abstract, IngestedAt: p.IngestedAt})
			if err != nil {
				return err
			}
			// The index key goes first: if only it fits, the paper is written
			// again by the next chunk and a pending key without a paper is
			// skipped by PullUnprocessed.
			if p.HasText() {
				err = txn.Set(pendingKey(p.IngestedAt, p.ID), nil)
			}
			if err == nil {
				err = txn.Set(key, buf)
			}
			if errors.Is(err, badger.ErrTxnTooBig) && consumed > 0 {
				// Commit what fits; the caller resumes at this paper.
				return nil
			}
			if errors.Is(err, badger.ErrTxnTooBig) {
				return errkind.Wrap(errkind.DataError, "add papers", fmt.Errorf("paper %s: %w", p.ID, err))
			}
			if err != nil {
				return err
			}
			inserted++
			consumed++
		}
		return nil
	})
	return inserted, consumed, err
}

// PullUnprocessed implements Repository. It walks the pending index from the
// cursor, so each batch reads only the papers it returns plus any still
// pending ones it passes over.
func (r *BadgerRepository) PullUnprocessed(ctx context.Context, cursor Cursor, limit int) ([]Paper, error) {
	var out []Paper
	err := r.kv.View(func(txn *badger.Txn) error {
		prefix := kv.Prefix(pendingPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true})
		defer it.Close()

		start := append(append([]byte{}, prefix...), 0xFF)
		var after []byte
		if !cursor.IsZero() {
			after = pendingKey(cursor.IngestedAt, cursor.ID)
			start = after
		}

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			if after != nil && bytes.Equal(key, after) {
				continue
			}
			parts := kv.Split(key)
			if len(parts) != 2 {
				continue
			}
			rec, err := getPaper(txn, parts[1])
			if err != nil {
				return err
			}
			if rec == nil {
				continue
			}
			p := Paper{ID: parts[1], Title: rec.Title, Abstract: rec.Abstract, IngestedAt: rec.IngestedAt.UTC()}
			if !p.HasText() || !cursor.before(p) || hasMentions(txn, p.ID) {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, transient("pull unprocessed", err)
	}
	return out, nil
}

// RecordGeneMentions implements Repository.
func (r *BadgerRepository) RecordGeneMentions(ctx context.Context, mentions []mention.GeneMention) (int, error) {
	if len(mentions) == 0 {
		return 0, nil
	}

	var inserted int
	now := r.now()
	err := r.kv.UpdateWithRetry(ctx, "record gene mentions", func(txn *badger.Txn) error {
		inserted = 0
		seen := make(map[string]bool)
		for _, m := range mentions {
			if !seen[m.PaperID] {
				rec, err := getPaper(txn, m.PaperID)
				if err != nil {
					return err
				}
				if rec == nil {
					return errkind.New(errkind.IntegrityViolation, "record gene mentions", "unknown paper "+m.PaperID)
				}
				// The paper leaves the pending index with its first mention.
				if err := txn.Delete(pendingKey(rec.IngestedAt, m.PaperID)); err != nil {
					return err
				}
				seen[m.PaperID] = true
			}

			key := mentionKeyBytes(m)
			exists, err := keyExists(txn, key)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			buf, err := json.Marshal(badgerMention{Confidence: m.Confidence, CreatedAt: now})
			if err != nil {
				return err
			}
			if err := txn.Set(key, buf); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to record gene mentions",
			slog.String("paper_id", mentions[0].PaperID),
			slog.String("error", err.Error()))
		return 0, transient("record gene mentions", err)
	}
	return inserted, nil
}

// MentionCount implements Repository.
func (r *BadgerRepository) MentionCount(ctx context.Context, paperID string) (int, error) {
	n := 0
	found := false
	err := r.kv.View(func(txn *badger.Txn) error {
		ok, err := keyExists(txn, kv.Key(paperPrefix, paperID))
		if err != nil || !ok {
			return err
		}
		found = true

		prefix := kv.Prefix(mentionPrefix, paperID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, transient("mention count", err)
	}
	if !found {
		return 0, ErrPaperNotFound
	}
	return n, nil
}

// String identifies the backend in logs.
func (r *BadgerRepository) String() string {
	return "badger"
}
