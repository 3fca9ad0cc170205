// Package analyzer scans diff content for security, quality, and
// complexity signals using versioned rule tables. Analysis is pure: the
// same diff text and rule set version always produce the same result.
package analyzer

import (
	"sort"

	"github.com/committrace/committrace/internal/models"
)

// Risk score contributions per matched rule severity, capped at 100.
const (
	scoreCritical = 40
	scoreHigh     = 25
	scoreMedium   = 15
	scoreLow      = 5
	maxRiskScore  = 100
)

// Quality score deductions per issue, floored at 0.
const (
	startQualityScore  = 100
	deductMediumIssue  = 5
	deductLowIssue     = 3
	maxQualityDeducted = 100
)

// Change magnitude thresholds on total lines touched.
const (
	smallChangeLimit  = 10
	mediumChangeLimit = 50
)

// Analyzer runs the rule battery over commit diffs.
type Analyzer struct {
	rules *RuleSet
}

// New creates an analyzer with the given rule set; nil selects the
// embedded default table.
func New(rules *RuleSet) *Analyzer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Analyzer{rules: rules}
}

// Version reports the active rule set version.
func (a *Analyzer) Version() string {
	return a.rules.Version
}

// Analyze runs every rule against every file's diff text. Rules are
// independent: evaluation order does not affect the result and no rule
// short-circuits another. Content with no matches produces empty finding
// lists, not an error.
func (a *Analyzer) Analyze(commit *models.Commit, files []*models.FileChange) *models.AnalysisResult {
	result := &models.AnalysisResult{
		RuleSetVersion:   a.rules.Version,
		SecurityFindings: []models.Finding{},
		QualityFindings:  []models.Finding{},
		QualityScore:     startQualityScore,
		OverallRisk:      models.RiskLow,
		FileTiers:        make(map[string]models.RiskTier, len(files)),
	}

	totalAdditions, totalDeletions := 0, 0
	for _, fc := range files {
		totalAdditions += fc.Additions
		totalDeletions += fc.Deletions

		tier := models.RiskLow
		for i := range a.rules.Security {
			rule := &a.rules.Security[i]
			matches, count := rule.Match(fc.DiffContent)
			if count == 0 {
				continue
			}
			result.SecurityFindings = append(result.SecurityFindings, models.Finding{
				Rule:        rule.Name,
				Kind:        models.FindingSecurity,
				Severity:    rule.Severity,
				Description: rule.Description,
				Remediation: rule.Remediation,
				File:        fc.Path,
				Matches:     matches,
				Count:       count,
			})
			result.RiskScore += severityScore(rule.Severity)
			tier = tier.Max(rule.Severity)
		}
		for i := range a.rules.Quality {
			rule := &a.rules.Quality[i]
			matches, count := rule.Match(fc.DiffContent)
			if count == 0 {
				continue
			}
			result.QualityFindings = append(result.QualityFindings, models.Finding{
				Rule:        rule.Name,
				Kind:        models.FindingQuality,
				Severity:    rule.Severity,
				Description: rule.Description,
				Remediation: rule.Remediation,
				File:        fc.Path,
				Matches:     matches,
				Count:       count,
			})
			result.QualityScore -= qualityDeduction(rule.Severity)
		}

		for _, issue := range complexityFindings(fc.Path, fc.DiffContent) {
			result.QualityFindings = append(result.QualityFindings, issue)
			result.QualityScore -= qualityDeduction(issue.Severity)
		}

		result.FileTiers[fc.Path] = tier
	}

	if result.RiskScore > maxRiskScore {
		result.RiskScore = maxRiskScore
	}
	if result.QualityScore < 0 {
		result.QualityScore = 0
	}

	// Commit risk is the maximum of its files' tiers, never an average.
	for _, tier := range result.FileTiers {
		result.OverallRisk = result.OverallRisk.Max(tier)
	}

	result.ChangeMagnitude = changeMagnitude(totalAdditions + totalDeletions)
	result.Recommendations = securityRecommendations(result)
	sortFindings(result.SecurityFindings)
	sortFindings(result.QualityFindings)
	return result
}

// FileComplexity computes the complexity score for one file change.
func (a *Analyzer) FileComplexity(fc *models.FileChange) int {
	return ComplexityScore(fc.DiffContent)
}

func severityScore(tier models.RiskTier) int {
	switch tier {
	case models.RiskCritical:
		return scoreCritical
	case models.RiskHigh:
		return scoreHigh
	case models.RiskMedium:
		return scoreMedium
	default:
		return scoreLow
	}
}

func qualityDeduction(tier models.RiskTier) int {
	if tier.Rank() >= models.RiskMedium.Rank() {
		return deductMediumIssue
	}
	return deductLowIssue
}

func changeMagnitude(linesTouched int) string {
	switch {
	case linesTouched < smallChangeLimit:
		return "small"
	case linesTouched < mediumChangeLimit:
		return "medium"
	default:
		return "large"
	}
}

func securityRecommendations(r *models.AnalysisResult) []string {
	var recs []string
	hasCritical, hasHigh := false, false
	for _, f := range r.SecurityFindings {
		switch f.Severity {
		case models.RiskCritical:
			hasCritical = true
		case models.RiskHigh:
			hasHigh = true
		}
	}
	if hasCritical {
		recs = append(recs, "CRITICAL: address security vulnerabilities immediately")
	}
	if hasHigh {
		recs = append(recs, "HIGH: review and fix security issues before deployment")
	}
	if r.RiskScore > 50 {
		recs = append(recs, "consider a security review before merging")
	}
	return recs
}

// sortFindings orders findings by file then rule name so the result is
// stable regardless of rule evaluation order.
func sortFindings(findings []models.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Rule < findings[j].Rule
	})
}
