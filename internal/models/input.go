package models

import "time"

// WebhookPayload is a normalized push event delivered by the webhook
// collaborator. The commit array carries one descriptor per pushed commit.
type WebhookPayload struct {
	EventType  string                 `json:"event_type"`
	Repository WebhookRepository      `json:"repository"`
	Commits    []WebhookCommit        `json:"commits"`
	Sender     map[string]interface{} `json:"sender,omitempty"`
	Ref        string                 `json:"ref"`
	Before     string                 `json:"before"`
	After      string                 `json:"after"`
	Forced     bool                   `json:"forced"`
	Compare    string                 `json:"compare,omitempty"`
}

// WebhookRepository identifies the pushed-to repository.
type WebhookRepository struct {
	FullName string `json:"full_name"`
	Name     string `json:"name"`
}

// WebhookCommit is one commit descriptor inside a push payload.
type WebhookCommit struct {
	ID        string            `json:"id"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Author    WebhookAuthor     `json:"author"`
	Added     []string          `json:"added,omitempty"`
	Modified  []string          `json:"modified,omitempty"`
	Removed   []string          `json:"removed,omitempty"`
	Parents   []string          `json:"parents,omitempty"`
	Stats     *WebhookStats     `json:"stats,omitempty"`
	Diff      string            `json:"diff,omitempty"`
	FileDiffs map[string]string `json:"file_diffs,omitempty"`
}

// WebhookAuthor is the commit author inside a push payload.
type WebhookAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// WebhookStats carries per-commit line counts when the webhook supplies them.
type WebhookStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// LocalCommit is a commit descriptor produced by a local repository scan.
// The VCS reader supplies diff text and per-file counts.
type LocalCommit struct {
	CommitHash     string    `json:"commit_hash"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	Message        string    `json:"commit_message"`
	CommitDate     time.Time `json:"commit_date"`
	Branch         string    `json:"branch_name"`
	ParentHashes   []string  `json:"parent_commits"`
	LinesAdded     int       `json:"lines_added"`
	LinesDeleted   int       `json:"lines_deleted"`
	RepositoryPath string    `json:"repository_path"`
	Diff           string    `json:"diff_content"`
}

// CommitInput is the single normalized shape both origins reduce to before
// fingerprinting. Origin is the discriminant; ad hoc field-presence
// branching stops here.
type CommitInput struct {
	Origin         Source            `json:"origin"`
	CommitHash     string            `json:"commit_hash"`
	RepositoryName string            `json:"repository_name"`
	AuthorName     string            `json:"author_name"`
	AuthorEmail    string            `json:"author_email"`
	Message        string            `json:"message"`
	CommitDate     time.Time         `json:"commit_date"`
	Branch         string            `json:"branch"`
	ParentHashes   []string          `json:"parent_hashes"`
	LinesAdded     int               `json:"lines_added"`
	LinesDeleted   int               `json:"lines_deleted"`
	Diff           string            `json:"diff"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IngestionSummary reports the outcome of one ingestion call. Counters are
// accumulated with a commutative merge so parallel fan-out yields the same
// totals regardless of completion order.
type IngestionSummary struct {
	Received   int             `json:"received"`
	Stored     int             `json:"stored"`
	Duplicates int             `json:"duplicates"`
	Rejected   int             `json:"rejected"`
	Failed     int             `json:"failed"`
	Degraded   int             `json:"degraded"`
	Commits    []CommitOutcome `json:"commits,omitempty"`
}

// CommitOutcome is the per-commit line item inside an ingestion summary.
// Error carries an origin-specific identifier so callers can re-submit.
type CommitOutcome struct {
	CommitHash     string   `json:"commit_hash"`
	RepositoryName string   `json:"repository_name"`
	CommitID       string   `json:"commit_id,omitempty"`
	IsNewRecord    bool     `json:"is_new_record"`
	Status         Status   `json:"status"`
	RiskTier       RiskTier `json:"risk_tier,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Merge folds another summary into this one. Addition only, so the
// operation is commutative and associative.
func (s *IngestionSummary) Merge(other IngestionSummary) {
	s.Received += other.Received
	s.Stored += other.Stored
	s.Duplicates += other.Duplicates
	s.Rejected += other.Rejected
	s.Failed += other.Failed
	s.Degraded += other.Degraded
	s.Commits = append(s.Commits, other.Commits...)
}
