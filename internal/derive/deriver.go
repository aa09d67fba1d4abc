// Package derive turns a paper's text and one of its gene mentions into fact
// increments: the cancer type the paper is about and every point mutation
// it names.
package derive

import (
	"regexp"
	"strings"

	"github.com/onnwee/genetarget/internal/errkind"
	"github.com/onnwee/genetarget/internal/factstore"
)

// DefaultMutationPattern matches protein point mutations such as G12D.
const DefaultMutationPattern = `\b([A-Z]\d+[A-Z])\b`

// Config configures a Deriver. Zero values select the defaults.
type Config struct {
	Keywords        KeywordTable
	MutationPattern string
	Source          string
}

// Deriver derives fact increments. It holds only read-only state and is
// safe for concurrent use.
type Deriver struct {
	keywords KeywordTable
	mutation *regexp.Regexp
	source   string
}

// New validates cfg and builds a Deriver. The mutation pattern is compiled
// case-insensitively and must have a capture group.
func New(cfg Config) (*Deriver, error) {
	if cfg.Keywords == nil {
		cfg.Keywords = DefaultKeywordTable()
	}
	if err := cfg.Keywords.Validate(); err != nil {
		return nil, err
	}
	if cfg.MutationPattern == "" {
		cfg.MutationPattern = DefaultMutationPattern
	}
	if cfg.Source == "" {
		cfg.Source = factstore.DefaultSource
	}

	re, err := regexp.Compile("(?i)" + cfg.MutationPattern)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "compile mutation pattern", err)
	}
	if re.NumSubexp() < 1 {
		return nil, errkind.New(errkind.ConfigError, "compile mutation pattern", "pattern has no capture group")
	}

	return &Deriver{
		keywords: cfg.Keywords.normalized(),
		mutation: re,
		source:   cfg.Source,
	}, nil
}

// MustNew is New for static configuration; it panics on error.
func MustNew(cfg Config) *Deriver {
	d, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return d
}

// Text joins a title and abstract the way Derive expects to see them.
func Text(title, abstract string) string {
	return title + " " + abstract
}

// Derive returns the increments for gene in text: at most one gene_cancer
// increment, then one gene_mutation increment per mutation occurrence in
// order of appearance. Blank text or gene yields nil.
func (d *Deriver) Derive(text, gene string) []factstore.Increment {
	gene = strings.ToUpper(strings.TrimSpace(gene))
	if gene == "" || strings.TrimSpace(text) == "" {
		return nil
	}

	var incs []factstore.Increment
	if code, ok := d.keywords.Match(strings.ToLower(text)); ok {
		incs = append(incs, d.increment(factstore.FactGeneCancer, gene, code))
	}
	for _, m := range d.mutation.FindAllStringSubmatch(text, -1) {
		incs = append(incs, d.increment(factstore.FactGeneMutation, gene, strings.ToUpper(m[1])))
	}
	return incs
}

// Keywords returns a copy of the active table.
func (d *Deriver) Keywords() KeywordTable {
	return append(KeywordTable(nil), d.keywords...)
}

func (d *Deriver) increment(t factstore.FactType, gene, object string) factstore.Increment {
	return factstore.Increment{
		Type:    t,
		Subject: gene,
		Object:  object,
		Delta:   1,
		Source:  d.source,
	}
}
