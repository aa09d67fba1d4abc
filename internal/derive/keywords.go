package derive

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/onnwee/genetarget/internal/errkind"
)

// KeywordRule maps a lower-case keyword to a cancer type code.
type KeywordRule struct {
	Keyword string `yaml:"keyword"`
	Code    string `yaml:"code"`
}

// KeywordTable is an ordered list of rules. Order matters: the first rule
// whose keyword occurs in the text decides the cancer type.
type KeywordTable []KeywordRule

// DefaultKeywordTable returns the built-in table.
func DefaultKeywordTable() KeywordTable {
	return KeywordTable{
		{"pancreatic", "PAAD"},
		{"pancreas", "PAAD"},
		{"lung", "LUAD"},
		{"breast", "BRCA"},
		{"colorectal", "COAD"},
		{"colon", "COAD"},
		{"melanoma", "SKCM"},
		{"glioblastoma", "GBM"},
		{"brain", "GBM"},
		{"ovarian", "OV"},
		{"prostate", "PRAD"},
		{"liver", "LIHC"},
		{"hepatocellular", "LIHC"},
	}
}

// Validate rejects empty tables and blank entries.
func (t KeywordTable) Validate() error {
	if len(t) == 0 {
		return errkind.New(errkind.ConfigError, "keyword table", "table is empty")
	}
	for i, r := range t {
		if strings.TrimSpace(r.Keyword) == "" || strings.TrimSpace(r.Code) == "" {
			return errkind.New(errkind.ConfigError, "keyword table", fmt.Sprintf("entry %d has a blank keyword or code", i))
		}
	}
	return nil
}

// Match returns the code of the first rule whose keyword is a substring of
// lowered, which must already be lower-case.
func (t KeywordTable) Match(lowered string) (string, bool) {
	for _, r := range t {
		if strings.Contains(lowered, r.Keyword) {
			return r.Code, true
		}
	}
	return "", false
}

func (t KeywordTable) normalized() KeywordTable {
	out := make(KeywordTable, len(t))
	for i, r := range t {
		out[i] = KeywordRule{
			Keyword: strings.ToLower(strings.TrimSpace(r.Keyword)),
			Code:    strings.ToUpper(strings.TrimSpace(r.Code)),
		}
	}
	return out
}

// ParseKeywordTable decodes a YAML sequence of {keyword, code} mappings.
func ParseKeywordTable(data []byte) (KeywordTable, error) {
	var table KeywordTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "parse keyword table", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table.normalized(), nil
}

// LoadKeywordTable reads a keyword table from a YAML file.
func LoadKeywordTable(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.ConfigError, "read keyword table", err)
	}
	return ParseKeywordTable(data)
}
