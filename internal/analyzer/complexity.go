package analyzer

import (
	"strings"

	"github.com/committrace/committrace/internal/models"
)

// Complexity heuristics over added lines only: deleted code cannot add
// complexity to the result of the commit.
const (
	deepNestingIndent  = 16 // spaces; ~4 levels at 4-space indent
	longFunctionLines  = 40
	heavyBranchCount   = 10
	nestingWeight      = 3
	branchWeight       = 2
	functionLenWeight  = 1
	maxComplexityScore = 100
)

var branchKeywords = []string{"if ", "if(", "for ", "for(", "while ", "while(", "case ", "switch ", "&&", "||", "elif ", "else if"}

var functionStarts = []string{"func ", "def ", "function ", "fn ", "public ", "private ", "protected "}

// ComplexityScore produces a bounded heuristic score from nesting depth,
// function length, and branching introduced by the diff.
func ComplexityScore(diff string) int {
	added := addedLines(diff)
	if len(added) == 0 {
		return 0
	}

	maxIndent := 0
	branches := 0
	functionLines := 0
	inFunction := false
	longFunctions := 0

	for _, line := range added {
		indent := leadingWidth(line)
		if indent > maxIndent {
			maxIndent = indent
		}

		lower := strings.ToLower(strings.TrimSpace(line))
		for _, kw := range branchKeywords {
			branches += strings.Count(lower, kw)
		}

		if startsFunction(lower) {
			if inFunction && functionLines > longFunctionLines {
				longFunctions++
			}
			inFunction = true
			functionLines = 0
		} else if inFunction {
			functionLines++
		}
	}
	if inFunction && functionLines > longFunctionLines {
		longFunctions++
	}

	score := 0
	if maxIndent >= deepNestingIndent {
		score += nestingWeight * (maxIndent / 4)
	}
	score += branchWeight * branches
	score += functionLenWeight * longFunctions * longFunctionLines

	if score > maxComplexityScore {
		score = maxComplexityScore
	}
	return score
}

// complexityFindings emits quality findings for structural signals the
// score alone would hide.
func complexityFindings(path, diff string) []models.Finding {
	var findings []models.Finding
	added := addedLines(diff)
	if len(added) == 0 {
		return findings
	}

	branches := 0
	deepNesting := false
	for _, line := range added {
		if leadingWidth(line) >= deepNestingIndent {
			deepNesting = true
		}
		lower := strings.ToLower(strings.TrimSpace(line))
		for _, kw := range branchKeywords {
			branches += strings.Count(lower, kw)
		}
	}

	if deepNesting {
		findings = append(findings, models.Finding{
			Rule:        "deep_nesting",
			Kind:        models.FindingQuality,
			Severity:    models.RiskMedium,
			Description: "Deeply nested code introduced by this change",
			Remediation: "Flatten control flow or extract helper functions",
			File:        path,
			Count:       1,
		})
	}
	if branches > heavyBranchCount {
		findings = append(findings, models.Finding{
			Rule:        "heavy_branching",
			Kind:        models.FindingQuality,
			Severity:    models.RiskMedium,
			Description: "High branching count introduced by this change",
			Remediation: "Break the change into smaller, focused functions",
			File:        path,
			Count:       branches,
		})
	}
	return findings
}

func startsFunction(line string) bool {
	for _, prefix := range functionStarts {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// addedLines returns diff lines added by the change, without the leading
// marker. File headers (+++) are excluded.
func addedLines(diff string) []string {
	var out []string
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++") {
			out = append(out, line[1:])
		}
	}
	return out
}

// leadingWidth measures indentation in spaces, counting tabs as four.
func leadingWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
