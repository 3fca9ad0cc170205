// Package metrics computes aggregate productivity metrics and commit
// classification over a window of ingested commits.
package metrics

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/committrace/committrace/internal/models"
)

//go:embed keywords.yaml
var embeddedKeywords []byte

// KeywordTable is the versioned classification table. Entry order is
// the priority order: the first category whose keyword matches wins,
// so "fix typo in refactored helper" counts as bugfix, not refactor.
type KeywordTable struct {
	Version    string         `yaml:"version"`
	Categories []CategoryRule `yaml:"categories"`
}

type CategoryRule struct {
	Category models.Category `yaml:"category"`
	Keywords []string        `yaml:"keywords"`
}

// LoadKeywords parses a classification table and validates it.
func LoadKeywords(data []byte) (*KeywordTable, error) {
	var table KeywordTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing keyword table: %w", err)
	}
	if table.Version == "" {
		return nil, fmt.Errorf("keyword table missing version")
	}
	for _, rule := range table.Categories {
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("category %q has no keywords", rule.Category)
		}
	}
	return &table, nil
}

// DefaultKeywords returns the embedded table.
func DefaultKeywords() *KeywordTable {
	table, err := LoadKeywords(embeddedKeywords)
	if err != nil {
		panic(fmt.Sprintf("embedded keyword table is corrupt: %v", err))
	}
	return table
}

// Classify assigns a commit message to a category. Matching is
// case-insensitive on word prefixes, so "Fixed" and "fixes" both hit
// the "fix" keyword while "prefix" does not.
func (t *KeywordTable) Classify(message string) models.Category {
	words := tokenize(message)
	lowered := strings.ToLower(message)
	for _, rule := range t.Categories {
		for _, kw := range rule.Keywords {
			if strings.ContainsRune(kw, ' ') {
				if strings.Contains(lowered, kw) {
					return rule.Category
				}
				continue
			}
			for _, w := range words {
				if strings.HasPrefix(w, kw) {
					return rule.Category
				}
			}
		}
	}
	return models.CategoryOther
}

func tokenize(message string) []string {
	return strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}
