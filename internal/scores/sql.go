package scores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/genetarget/internal/db"
)

const scoreColumns = `gene, literature_score, mutation_frequency_score, crispr_dependency_score, composite_score, created_at, updated_at`

// SQLStore keeps scores in the target_scores table.
type SQLStore struct {
	db     *sql.DB
	driver db.Driver
	logger *slog.Logger
	now    func() time.Time

	// upsertQueries is keyed by component; columns come from Component.Column,
	// never from callers.
	upsertQueries    map[Component]string
	getQuery         string
	compositeQuery   string
	scoreableQuery   string
	rankedQuery      string
	rankedLimitQuery string
}

// NewSQLStore creates a SQLStore for the given driver.
func NewSQLStore(conn *sql.DB, driver db.Driver, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}

	upserts := make(map[Component]string, len(AllComponents))
	for _, c := range AllComponents {
		col := c.Column()
		upserts[c] = db.Rebind(driver, fmt.Sprintf(`
			INSERT INTO target_scores (gene, %[1]s, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (gene)
			DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`, col))
	}

	ranked := `SELECT ` + scoreColumns + `
			FROM target_scores
			WHERE composite_score IS NOT NULL
			ORDER BY composite_score DESC, gene ASC`

	return &SQLStore{
		db:            conn,
		driver:        driver,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		upsertQueries: upserts,
		getQuery:      db.Rebind(driver, `SELECT `+scoreColumns+` FROM target_scores WHERE gene = ?`),
		compositeQuery: db.Rebind(driver, `
			UPDATE target_scores SET composite_score = ?, updated_at = ? WHERE gene = ?`),
		scoreableQuery: `
			SELECT gene FROM target_scores
			WHERE literature_score IS NOT NULL
				OR mutation_frequency_score IS NOT NULL
				OR crispr_dependency_score IS NOT NULL
			ORDER BY gene`,
		rankedQuery:      ranked,
		rankedLimitQuery: db.Rebind(driver, ranked+` LIMIT ?`),
	}
}

// UpsertComponent implements Store.
func (s *SQLStore) UpsertComponent(ctx context.Context, gene string, c Component, value float64) error {
	if err := validateUpsert(gene, c); err != nil {
		return err
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, s.upsertQueries[c], gene, value, now, now); err != nil {
		s.logger.Error("component upsert failed",
			slog.String("gene", gene),
			slog.String("component", c.String()),
			slog.String("error", err.Error()))
		return db.Classify("upsert component", err)
	}
	return nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, gene string) (*ComponentSet, error) {
	set, err := scanSet(s.db.QueryRowContext(ctx, s.getQuery, gene))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, db.Classify("get scores", err)
	}
	return set, nil
}

// SetComposite implements Store.
func (s *SQLStore) SetComposite(ctx context.Context, gene string, composite *float64) error {
	var v sql.NullFloat64
	if composite != nil {
		v = sql.NullFloat64{Float64: *composite, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.compositeQuery, v, s.now(), gene)
	if err != nil {
		return db.Classify("set composite", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.Classify("set composite", err)
	}
	if n == 0 {
		return ErrScoreNotFound
	}
	return nil
}

// ListScoreable implements Store.
func (s *SQLStore) ListScoreable(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.scoreableQuery)
	if err != nil {
		return nil, db.Classify("list scoreable", err)
	}
	defer rows.Close()

	var genes []string
	for rows.Next() {
		var gene string
		if err := rows.Scan(&gene); err != nil {
			return nil, db.Classify("scan gene", err)
		}
		genes = append(genes, gene)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("list scoreable", err)
	}
	return genes, nil
}

// Ranked implements Store.
func (s *SQLStore) Ranked(ctx context.Context, limit int) ([]ComponentSet, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, s.rankedLimitQuery, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.rankedQuery)
	}
	if err != nil {
		return nil, db.Classify("rank scores", err)
	}
	defer rows.Close()

	var sets []ComponentSet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, db.Classify("scan scores", err)
		}
		sets = append(sets, *set)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("rank scores", err)
	}
	return sets, nil
}

// String identifies the backend in logs.
func (s *SQLStore) String() string {
	return fmt.Sprintf("sql(%s)", s.driver)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSet(row rowScanner) (*ComponentSet, error) {
	var (
		set                         ComponentSet
		lit, mut, crispr, composite sql.NullFloat64
	)
	if err := row.Scan(&set.Gene, &lit, &mut, &crispr, &composite, &set.CreatedAt, &set.UpdatedAt); err != nil {
		return nil, err
	}
	set.Literature = nullable(lit)
	set.MutationFrequency = nullable(mut)
	set.CRISPRDependency = nullable(crispr)
	set.Composite = nullable(composite)
	return &set, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return Float(v.Float64)
}
