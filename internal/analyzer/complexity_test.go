package analyzer

import "testing"

func TestComplexityScore_EmptyDiff(t *testing.T) {
	if got := ComplexityScore(""); got != 0 {
		t.Errorf("ComplexityScore(\"\") = %d, want 0", got)
	}
	if got := ComplexityScore("-removed line\n"); got != 0 {
		t.Errorf("deletions-only diff scored %d, want 0", got)
	}
}

func TestComplexityScore_BranchingRaisesScore(t *testing.T) {
	flat := "+x := 1\n+y := 2\n"
	branchy := "+if a {\n+if b {\n+for i := range xs {\n+if c && d {\n"
	if ComplexityScore(branchy) <= ComplexityScore(flat) {
		t.Error("branching diff should score higher than flat diff")
	}
}

func TestComplexityScore_NestingRaisesScore(t *testing.T) {
	shallow := "+if a {\n+    do()\n+}\n"
	deep := "+if a {\n+                    deeply_nested()\n+}\n"
	if ComplexityScore(deep) <= ComplexityScore(shallow) {
		t.Error("deep nesting should score higher than shallow nesting")
	}
}

func TestComplexityScore_Bounded(t *testing.T) {
	var b []byte
	for i := 0; i < 500; i++ {
		b = append(b, []byte("+if a && b || c {\n")...)
	}
	if got := ComplexityScore(string(b)); got > 100 {
		t.Errorf("score = %d, want capped at 100", got)
	}
}

func TestComplexityFindings_DeepNesting(t *testing.T) {
	diff := "+                    buried := true\n"
	findings := complexityFindings("deep.go", diff)
	found := false
	for _, f := range findings {
		if f.Rule == "deep_nesting" {
			found = true
		}
	}
	if !found {
		t.Error("expected deep_nesting finding")
	}
}

func TestLeadingWidth(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"none", 0},
		{"    four", 4},
		{"\ttab", 4},
		{"\t  mixed", 6},
	}
	for _, tt := range tests {
		if got := leadingWidth(tt.line); got != tt.want {
			t.Errorf("leadingWidth(%q) = %d, want %d", tt.line, got, tt.want)
		}
	}
}
