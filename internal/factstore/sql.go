package factstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/genetarget/internal/db"
)

// SQLStore keeps facts in the facts table of Postgres or SQLite. Merge is a
// single INSERT ... ON CONFLICT DO UPDATE statement, so the database
// serializes concurrent increments of one triple without application locks.
type SQLStore struct {
	db     *sql.DB
	driver db.Driver
	logger *slog.Logger
	now    func() time.Time

	mergeQuery     string
	aggregateQuery string
	getQuery       string
	listQuery      string
	subjectsQuery  string
}

// NewSQLStore creates a SQLStore for the given driver.
func NewSQLStore(conn *sql.DB, driver db.Driver, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		db:     conn,
		driver: driver,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },

		// source is deliberately absent from the update list.
		mergeQuery: db.Rebind(driver, `
			INSERT INTO facts (fact_type, subject, object, evidence_count, source, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (fact_type, subject, object)
			DO UPDATE SET
				evidence_count = facts.evidence_count + excluded.evidence_count,
				updated_at = excluded.updated_at
			RETURNING evidence_count`),
		aggregateQuery: db.Rebind(driver, `
			SELECT
				COALESCE(SUM(CASE WHEN fact_type = 'gene_cancer' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN fact_type = 'gene_mutation' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(evidence_count), 0)
			FROM facts
			WHERE subject = ? AND fact_type IN ('gene_cancer', 'gene_mutation')`),
		getQuery: db.Rebind(driver, `
			SELECT fact_type, subject, object, evidence_count, source, created_at, updated_at
			FROM facts
			WHERE fact_type = ? AND subject = ? AND object = ?`),
		listQuery: db.Rebind(driver, `
			SELECT fact_type, subject, object, evidence_count, source, created_at, updated_at
			FROM facts
			WHERE subject = ?
			ORDER BY fact_type, object`),
		subjectsQuery: `SELECT DISTINCT subject FROM facts ORDER BY subject`,
	}
}

// Merge implements Store.
func (s *SQLStore) Merge(ctx context.Context, inc Increment) (int64, error) {
	if err := inc.Validate(); err != nil {
		return 0, err
	}

	now := s.now()
	var count int64
	err := s.db.QueryRowContext(ctx, s.mergeQuery,
		string(inc.Type), inc.Subject, inc.Object, inc.Delta, inc.Source, now, now,
	).Scan(&count)
	if err != nil {
		s.logger.Error("fact merge failed",
			slog.String("fact_type", string(inc.Type)),
			slog.String("subject", inc.Subject),
			slog.String("object", inc.Object),
			slog.String("error", err.Error()))
		return 0, db.Classify("merge fact", err)
	}
	return count, nil
}

// Aggregate implements Store.
func (s *SQLStore) Aggregate(ctx context.Context, subject string) (Aggregate, error) {
	agg := Aggregate{Subject: subject}
	err := s.db.QueryRowContext(ctx, s.aggregateQuery, subject).Scan(
		&agg.CancerEvidenceCount,
		&agg.MutationEvidenceCount,
		&agg.TotalEvidenceCount,
	)
	if err != nil {
		return Aggregate{}, db.Classify("aggregate facts", err)
	}
	return agg, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, factType FactType, subject, object string) (*Fact, error) {
	row := s.db.QueryRowContext(ctx, s.getQuery, string(factType), subject, object)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFactNotFound
	}
	if err != nil {
		return nil, db.Classify("get fact", err)
	}
	return f, nil
}

// ListBySubject implements Store.
func (s *SQLStore) ListBySubject(ctx context.Context, subject string) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, s.listQuery, subject)
	if err != nil {
		return nil, db.Classify("list facts", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, db.Classify("scan fact", err)
		}
		facts = append(facts, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list facts", err)
	}
	return facts, nil
}

// Subjects implements Store.
func (s *SQLStore) Subjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.subjectsQuery)
	if err != nil {
		return nil, db.Classify("list subjects", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, db.Classify("scan subject", err)
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list subjects", err)
	}
	return subjects, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*Fact, error) {
	var (
		f        Fact
		factType string
	)
	if err := row.Scan(&factType, &f.Subject, &f.Object, &f.EvidenceCount, &f.Source, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Type = FactType(factType)
	return &f, nil
}

// String identifies the backend in logs.
func (s *SQLStore) String() string {
	return fmt.Sprintf("sql(%s)", s.driver)
}
