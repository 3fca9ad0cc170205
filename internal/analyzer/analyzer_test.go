package analyzer

import (
	"reflect"
	"testing"

	"github.com/committrace/committrace/internal/models"
)

func fileChange(path, diff string) *models.FileChange {
	return &models.FileChange{Path: path, Filename: path, DiffContent: diff}
}

func commit() *models.Commit {
	return &models.Commit{CommitHash: "abc123", RepositoryName: "demo"}
}

func TestDefaultRules_Load(t *testing.T) {
	rs := DefaultRules()
	if rs.Version == "" {
		t.Fatal("rule set has no version")
	}
	if len(rs.Security) == 0 || len(rs.Quality) == 0 {
		t.Fatalf("rule tables empty: %d security, %d quality", len(rs.Security), len(rs.Quality))
	}
	for _, r := range append(rs.Security, rs.Quality...) {
		if r.re == nil {
			t.Errorf("rule %q not compiled", r.Name)
		}
	}
}

func TestAnalyze_HardcodedPassword(t *testing.T) {
	a := New(nil)
	diff := "diff --git a/cfg.py b/cfg.py\n+password = \"admin123\"\n"
	result := a.Analyze(commit(), []*models.FileChange{fileChange("cfg.py", diff)})

	found := false
	for _, f := range result.SecurityFindings {
		if f.Rule == "hardcoded_credentials" {
			found = true
			if f.Severity.Rank() < models.RiskHigh.Rank() {
				t.Errorf("hardcoded_credentials severity = %s, want high or critical", f.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected hardcoded_credentials finding, got %+v", result.SecurityFindings)
	}
	if result.OverallRisk.Rank() < models.RiskHigh.Rank() {
		t.Errorf("overall risk = %s, want at least high", result.OverallRisk)
	}
	if result.FileTiers["cfg.py"].Rank() < models.RiskHigh.Rank() {
		t.Errorf("file tier = %s, want at least high", result.FileTiers["cfg.py"])
	}
}

func TestAnalyze_CommitRiskIsMaxOfFileTiers(t *testing.T) {
	a := New(nil)
	clean := fileChange("docs/readme.md", "+Plain documentation text.\n")
	risky := fileChange("db.py", "+cursor.execute(\"SELECT * FROM users WHERE id=\" + user_id)\n")

	files := []*models.FileChange{clean, risky}
	for i := 0; i < 8; i++ {
		files = append(files, fileChange("other.md", "+more docs\n"))
	}
	result := a.Analyze(commit(), files)

	if result.OverallRisk != models.RiskCritical {
		t.Errorf("overall risk = %s, want critical (one critical file dominates)", result.OverallRisk)
	}
	if result.FileTiers["docs/readme.md"] != models.RiskLow {
		t.Errorf("clean file tier = %s, want low", result.FileTiers["docs/readme.md"])
	}
}

func TestAnalyze_Pure(t *testing.T) {
	a := New(nil)
	files := []*models.FileChange{
		fileChange("a.py", "+password = \"admin123\"\n+print(debug)\n"),
		fileChange("b.go", "+if user == admin {\n"),
	}
	first := a.Analyze(commit(), files)
	second := a.Analyze(commit(), files)
	if !reflect.DeepEqual(first, second) {
		t.Error("analysis is not deterministic for identical input")
	}
}

func TestAnalyze_NoMatchesEmptyFindings(t *testing.T) {
	a := New(nil)
	result := a.Analyze(commit(), []*models.FileChange{
		fileChange("notes.txt", "+totally harmless words\n"),
	})
	if len(result.SecurityFindings) != 0 {
		t.Errorf("expected no security findings, got %+v", result.SecurityFindings)
	}
	if result.OverallRisk != models.RiskLow {
		t.Errorf("overall risk = %s, want low", result.OverallRisk)
	}
	if result.RiskScore != 0 {
		t.Errorf("risk score = %d, want 0", result.RiskScore)
	}
}

func TestAnalyze_RiskScoreCapped(t *testing.T) {
	a := New(nil)
	var files []*models.FileChange
	for i := 0; i < 10; i++ {
		files = append(files, fileChange("f.py",
			"+cursor.execute(\"X\" + y)\n+password = \"admin123\"\n+if role == admin:\n"))
	}
	result := a.Analyze(commit(), files)
	if result.RiskScore != 100 {
		t.Errorf("risk score = %d, want capped at 100", result.RiskScore)
	}
}

func TestAnalyze_ChangeMagnitude(t *testing.T) {
	a := New(nil)
	small := a.Analyze(commit(), []*models.FileChange{
		{Path: "a", Additions: 2, Deletions: 1},
	})
	if small.ChangeMagnitude != "small" {
		t.Errorf("magnitude = %q, want small", small.ChangeMagnitude)
	}
	large := a.Analyze(commit(), []*models.FileChange{
		{Path: "a", Additions: 40, Deletions: 30},
	})
	if large.ChangeMagnitude != "large" {
		t.Errorf("magnitude = %q, want large", large.ChangeMagnitude)
	}
}

func TestAnalyze_QualityFindings(t *testing.T) {
	a := New(nil)
	diff := "+try:\n+    risky()\n+except:\n+    pass\n+print(\"debug\")\n"
	result := a.Analyze(commit(), []*models.FileChange{fileChange("svc.py", diff)})

	rules := map[string]bool{}
	for _, f := range result.QualityFindings {
		rules[f.Rule] = true
	}
	if !rules["error_handling"] {
		t.Error("expected error_handling finding for bare except")
	}
	if !rules["debug_logging"] {
		t.Error("expected debug_logging finding for print call")
	}
	if result.QualityScore >= 100 {
		t.Errorf("quality score = %d, should be deducted below 100", result.QualityScore)
	}
}

func TestLoadRules_RejectsBadPattern(t *testing.T) {
	_, err := LoadRules([]byte("version: \"1\"\nsecurity:\n  - name: broken\n    pattern: '('\n    severity: low\n"))
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestLoadRules_RequiresVersion(t *testing.T) {
	_, err := LoadRules([]byte("security: []\nquality: []\n"))
	if err == nil {
		t.Fatal("expected error for missing version")
	}
}
