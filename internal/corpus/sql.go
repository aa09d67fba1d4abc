package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/genetarget/internal/db"
	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/mention"
)

const unprocessedBase = `
	SELECT p.id, p.title, p.abstract_text, p.ingested_at
	FROM papers p
	WHERE (TRIM(p.title) <> '' OR TRIM(p.abstract_text) <> '')
		AND NOT EXISTS (SELECT 1 FROM gene_mentions gm WHERE gm.paper_id = p.id)`

// SQLRepository is the Postgres/SQLite Repository.
type SQLRepository struct {
	db     *sql.DB
	driver db.Driver
	logger *slog.Logger
	now    func() time.Time

	insertPaperQuery   string
	firstPageQuery     string
	nextPageQuery      string
	insertMentionQuery string
	mentionCountQuery  string
	paperExistsQuery   string
}

// NewSQLRepository creates a SQLRepository.
func NewSQLRepository(conn *sql.DB, driver db.Driver, logger *slog.Logger) *SQLRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLRepository{
		db:     conn,
		driver: driver,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },

		insertPaperQuery: db.Rebind(driver, `
			INSERT INTO papers (id, title, abstract_text, ingested_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
		firstPageQuery: db.Rebind(driver, unprocessedBase+`
			ORDER BY p.ingested_at DESC, p.id DESC
			LIMIT ?`),
		nextPageQuery: db.Rebind(driver, unprocessedBase+`
			AND (p.ingested_at, p.id) < (?, ?)
			ORDER BY p.ingested_at DESC, p.id DESC
			LIMIT ?`),
		insertMentionQuery: db.Rebind(driver, `
			INSERT INTO gene_mentions (paper_id, gene_symbol, mention_text, confidence, span_start, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (paper_id, gene_symbol, mention_text, span_start) DO NOTHING`),
		mentionCountQuery: db.Rebind(driver, `SELECT COUNT(*) FROM gene_mentions WHERE paper_id = ?`),
		paperExistsQuery:  db.Rebind(driver, `SELECT 1 FROM papers WHERE id = ?`),
	}
}

func (r *SQLRepository) txOptions() *sql.TxOptions {
	if r.driver == db.DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	return nil
}

// inTx runs fn in a transaction and commits it.
func (r *SQLRepository) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, r.txOptions())
	if err != nil {
		return db.Classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	// No-op after a successful commit.
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback transaction",
				slog.String("op", op),
				slog.String("error", err.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return db.Classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return db.Classify(op, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// AddPapers implements Repository.
func (r *SQLRepository) AddPapers(ctx context.Context, papers []Paper) (int, error) {
	inserted := 0
	err := r.inTx(ctx, "add papers", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.insertPaperQuery)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range papers {
			if p.ID == "" {
				return errkind.New(errkind.DataError, "add papers", "paper id is required")
			}
			res, err := stmt.ExecContext(ctx, p.ID, p.Title, p.Abstract, normalizeTime(p.IngestedAt))
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// PullUnprocessed implements Repository.
func (r *SQLRepository) PullUnprocessed(ctx context.Context, cursor Cursor, limit int) ([]Paper, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor.IsZero() {
		rows, err = r.db.QueryContext(ctx, r.firstPageQuery, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, r.nextPageQuery, normalizeTime(cursor.IngestedAt), cursor.ID, limit)
	}
	if err != nil {
		return nil, db.Classify("pull unprocessed", err)
	}
	defer rows.Close()

	var papers []Paper
	for rows.Next() {
		var p Paper
		if err := rows.Scan(&p.ID, &p.Title, &p.Abstract, &p.IngestedAt); err != nil {
			return nil, db.Classify("scan paper", err)
		}
		p.IngestedAt = p.IngestedAt.UTC()
		papers = append(papers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("pull unprocessed", err)
	}
	return papers, nil
}

// RecordGeneMentions implements Repository.
func (r *SQLRepository) RecordGeneMentions(ctx context.Context, mentions []mention.GeneMention) (int, error) {
	if len(mentions) == 0 {
		return 0, nil
	}

	inserted := 0
	now := r.now()
	err := r.inTx(ctx, "record gene mentions", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, r.insertMentionQuery)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range mentions {
			res, err := stmt.ExecContext(ctx, m.PaperID, m.GeneSymbol, m.MentionText, m.Confidence, m.Start, now)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to record gene mentions",
			slog.String("paper_id", mentions[0].PaperID),
			slog.Int("count", len(mentions)),
			slog.String("error", err.Error()))
		return 0, err
	}
	return inserted, nil
}

// MentionCount implements Repository.
func (r *SQLRepository) MentionCount(ctx context.Context, paperID string) (int, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, r.paperExistsQuery, paperID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrPaperNotFound
	}
	if err != nil {
		return 0, db.Classify("mention count", err)
	}

	var n int
	if err := r.db.QueryRowContext(ctx, r.mentionCountQuery, paperID).Scan(&n); err != nil {
		return 0, db.Classify("mention count", err)
	}
	return n, nil
}

// String identifies the backend in logs.
func (r *SQLRepository) String() string {
	return fmt.Sprintf("sql(%s)", r.driver)
}
