// Package corpus stores source papers and the gene mentions extracted from
// them. A paper with at least one gene mention is processed; every other
// paper with text is eligible for ingestion.
package corpus

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/onnwee/genetarget/internal/mention"
)

// ErrPaperNotFound is returned when a paper ID is unknown.
var ErrPaperNotFound = errors.New("paper not found")

// Paper is a source record.
type Paper struct {
	ID         string
	Title      string
	Abstract   string
	IngestedAt time.Time
}

// HasText reports whether the paper has a non-blank title or abstract.
func (p Paper) HasText() bool {
	return strings.TrimSpace(p.Title) != "" || strings.TrimSpace(p.Abstract) != ""
}

// Text is the extraction input: title and abstract separated by a blank line.
func (p Paper) Text() string {
	return p.Title + "\n\n" + p.Abstract
}

// Cursor is a keyset position in (ingested_at DESC, id DESC) order. The zero
// Cursor starts at the newest paper.
type Cursor struct {
	IngestedAt time.Time
	ID         string
}

// IsZero reports whether c is the starting position.
func (c Cursor) IsZero() bool {
	return c.ID == "" && c.IngestedAt.IsZero()
}

// After returns the cursor positioned past p.
func After(p Paper) Cursor {
	return Cursor{IngestedAt: p.IngestedAt, ID: p.ID}
}

// before reports whether p sorts after c in pull order.
func (c Cursor) before(p Paper) bool {
	if c.IsZero() {
		return true
	}
	if !p.IngestedAt.Equal(c.IngestedAt) {
		return p.IngestedAt.Before(c.IngestedAt)
	}
	return p.ID < c.ID
}

// Repository stores papers and gene mentions.
type Repository interface {
	// AddPapers inserts papers, ignoring IDs that already exist, and returns
	// the number inserted.
	AddPapers(ctx context.Context, papers []Paper) (int, error)

	// PullUnprocessed returns up to limit papers with text and no gene
	// mentions, newest first, strictly after cursor.
	PullUnprocessed(ctx context.Context, cursor Cursor, limit int) ([]Paper, error)

	// RecordGeneMentions inserts mentions, ignoring exact duplicates, and
	// returns the number inserted. All rows land or none do.
	RecordGeneMentions(ctx context.Context, mentions []mention.GeneMention) (int, error)

	// MentionCount returns the number of gene mentions stored for a paper.
	MentionCount(ctx context.Context, paperID string) (int, error)
}

// normalizeTime fixes the precision and zone of stored timestamps so that
// keyset comparisons match what the database returns.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Microsecond)
}
