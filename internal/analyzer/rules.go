package analyzer

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/committrace/committrace/internal/models"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Rule is one (pattern, category, severity) tuple. Rules are data, not
// code: the table can be tested and versioned independently of the
// pipeline.
type Rule struct {
	Name        string          `yaml:"name"`
	Pattern     string          `yaml:"pattern"`
	Severity    models.RiskTier `yaml:"severity"`
	Description string          `yaml:"description"`
	Remediation string          `yaml:"remediation"`

	re *regexp.Regexp
}

// RuleSet holds the compiled security and quality rule tables.
type RuleSet struct {
	Version  string `yaml:"version"`
	Security []Rule `yaml:"security"`
	Quality  []Rule `yaml:"quality"`
}

// LoadRules parses and compiles a rule set from YAML.
func LoadRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	if rs.Version == "" {
		return nil, fmt.Errorf("rule set missing version")
	}
	for i := range rs.Security {
		if err := rs.Security[i].compile(); err != nil {
			return nil, err
		}
	}
	for i := range rs.Quality {
		if err := rs.Quality[i].compile(); err != nil {
			return nil, err
		}
	}
	return &rs, nil
}

// DefaultRules returns the embedded rule set. The embedded table is part
// of the build, so a parse failure is a programming error.
func DefaultRules() *RuleSet {
	rs, err := LoadRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rule set invalid: %v", err))
	}
	return rs
}

func (r *Rule) compile() error {
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	if r.Severity == "" {
		return fmt.Errorf("rule %q: missing severity", r.Name)
	}
	r.re = re
	return nil
}

// Match returns up to maxMatches matched substrings and the total count.
func (r *Rule) Match(text string) (matches []string, count int) {
	all := r.re.FindAllString(text, -1)
	count = len(all)
	if count > maxRecordedMatches {
		all = all[:maxRecordedMatches]
	}
	return all, count
}

// maxRecordedMatches bounds the matched substrings stored per finding so a
// pathological diff cannot bloat the analysis record.
const maxRecordedMatches = 5
