package models

import (
	"time"
)

// Source identifies where a commit event originated.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceLocal   Source = "local"
)

// Status tracks a commit through the ingestion pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// ChangeKind describes how a file was modified within a commit.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// RiskTier is an ordinal severity classification.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

var riskRank = map[RiskTier]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of the tier (low=0 .. critical=3).
// Unknown tiers rank as low.
func (r RiskTier) Rank() int {
	return riskRank[r]
}

// Max returns the higher of two tiers.
func (r RiskTier) Max(other RiskTier) RiskTier {
	if other.Rank() > r.Rank() {
		return other
	}
	return r
}

// Commit is the canonical stored record for one ingested commit.
// The natural key is (RepositoryName, CommitHash); deduplication is keyed
// on (RepositoryName, Fingerprint).
type Commit struct {
	ID             string            `json:"id" db:"id"`
	CommitHash     string            `json:"commit_hash" db:"commit_hash"`
	RepositoryName string            `json:"repository_name" db:"repository_name"`
	AuthorName     string            `json:"author_name" db:"author_name"`
	AuthorEmail    string            `json:"author_email" db:"author_email"`
	Message        string            `json:"message" db:"message"`
	CommitDate     time.Time         `json:"commit_date" db:"commit_date"`
	Source         Source            `json:"source" db:"source"`
	Branch         string            `json:"branch" db:"branch"`
	ParentHashes   []string          `json:"parent_hashes"`
	LinesAdded     int               `json:"lines_added" db:"lines_added"`
	LinesDeleted   int               `json:"lines_deleted" db:"lines_deleted"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         Status            `json:"status" db:"status"`
	DiffContent    string            `json:"diff_content,omitempty" db:"diff_content"`
	Fingerprint    string            `json:"fingerprint" db:"fingerprint"`
	RiskTier       RiskTier          `json:"risk_tier" db:"risk_tier"`
	Analysis       *AnalysisResult   `json:"analysis,omitempty"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}

// FileChange is one file's diff record within a commit. A commit owns its
// file changes; they are cascade-deleted with it.
type FileChange struct {
	ID              string     `json:"id" db:"id"`
	CommitID        string     `json:"commit_id" db:"commit_id"`
	Filename        string     `json:"filename" db:"filename"`
	Path            string     `json:"path" db:"path"`
	Extension       string     `json:"extension" db:"extension"`
	Kind            ChangeKind `json:"kind" db:"kind"`
	Additions       int        `json:"additions" db:"additions"`
	Deletions       int        `json:"deletions" db:"deletions"`
	DiffContent     string     `json:"diff_content,omitempty" db:"diff_content"`
	SizeBefore      int        `json:"size_before" db:"size_before"`
	SizeAfter       int        `json:"size_after" db:"size_after"`
	Language        string     `json:"language" db:"language"`
	ComplexityScore int        `json:"complexity_score" db:"complexity_score"`
	RiskTier        RiskTier   `json:"risk_tier" db:"risk_tier"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// FindingKind separates security findings from quality findings.
type FindingKind string

const (
	FindingSecurity FindingKind = "security"
	FindingQuality  FindingKind = "quality"
)

// Finding is one rule match inside a commit's diff.
type Finding struct {
	Rule        string      `json:"rule"`
	Kind        FindingKind `json:"kind"`
	Severity    RiskTier    `json:"severity"`
	Description string      `json:"description"`
	Remediation string      `json:"remediation"`
	File        string      `json:"file,omitempty"`
	Matches     []string    `json:"matches,omitempty"`
	Count       int         `json:"count"`
}

// AnalysisResult is attached to a commit after pattern analysis. Degraded
// is set when analysis did not run, so callers can distinguish "no
// findings" from "analysis missing".
type AnalysisResult struct {
	RuleSetVersion   string              `json:"rule_set_version"`
	SecurityFindings []Finding           `json:"security_findings"`
	QualityFindings  []Finding           `json:"quality_findings"`
	RiskScore        int                 `json:"risk_score"`
	QualityScore     int                 `json:"quality_score"`
	OverallRisk      RiskTier            `json:"overall_risk"`
	FileTiers        map[string]RiskTier `json:"file_tiers,omitempty"`
	ChangeMagnitude  string              `json:"change_magnitude"`
	Recommendations  []string            `json:"recommendations,omitempty"`
	Degraded         bool                `json:"degraded,omitempty"`
}

// Category classifies a commit by intent, derived from its message.
type Category string

const (
	CategoryBugfix   Category = "bugfix"
	CategoryRefactor Category = "refactor"
	CategoryFeature  Category = "feature"
	CategoryOther    Category = "other"
)

// AggregateMetrics is a request-scoped projection over a set of commits.
// It is computed on demand and never persisted.
type AggregateMetrics struct {
	CommitCount       int              `json:"commit_count"`
	TotalLinesAdded   int              `json:"total_lines_added"`
	TotalLinesDeleted int              `json:"total_lines_deleted"`
	NetChange         int              `json:"net_change"`
	UniqueAuthors     int              `json:"unique_authors"`
	AvgCommitSize     float64          `json:"avg_commit_size"`
	ProductivityScore int              `json:"productivity_score"`
	CategoryCounts    map[Category]int `json:"category_counts"`
	Recommendations   []string         `json:"recommendations,omitempty"`
}

// WindowStats summarizes recent activity for one repository.
type WindowStats struct {
	RepositoryName   string     `json:"repository_name"`
	TotalCommits     int        `json:"total_commits"`
	CommitsToday     int        `json:"commits_today"`
	CommitsThisWeek  int        `json:"commits_this_week"`
	CommitsThisMonth int        `json:"commits_this_month"`
	AvgCommitsPerDay float64    `json:"average_commits_per_day"`
	MostActiveAuthor string     `json:"most_active_author"`
	MostActiveBranch string     `json:"most_active_branch"`
	LastCommitDate   *time.Time `json:"last_commit_date,omitempty"`
}

// SearchResult is one ranked hit from the full-text index.
type SearchResult struct {
	CommitID       string    `json:"commit_id"`
	CommitHash     string    `json:"commit_hash"`
	RepositoryName string    `json:"repository_name"`
	AuthorName     string    `json:"author_name"`
	Message        string    `json:"message"`
	Rank           float64   `json:"rank"`
	CreatedAt      time.Time `json:"created_at"`
}
