// Package store persists commits and their per-file changes, enforcing one
// canonical record per (repository, fingerprint). Postgres is the
// production backend; SQLite serves the local profile.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/committrace/committrace/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Filter narrows list and search operations.
type Filter struct {
	Repository string
	Author     string
	Branch     string
	Status     models.Status
	Since      *time.Time
	Until      *time.Time
}

// Page selects one page of a listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

func (p Page) offset() int {
	n := p.Number
	if n < 1 {
		n = 1
	}
	return (n - 1) * p.limit()
}

func (p Page) limit() int {
	if p.Size <= 0 {
		return 50
	}
	return p.Size
}

// SearchDocument is the weighted full-text representation of one commit.
// Indexing is idempotent: the document is keyed by commit id and replaced
// on re-index.
type SearchDocument struct {
	CommitID       string
	RepositoryName string
	AuthorName     string
	Message        string
	DiffContent    string
}

// Store defines the diff store contract shared by the Postgres and SQLite
// backends.
type Store interface {
	// UpsertCommit performs an at-most-one-insert keyed on
	// (repository_name, fingerprint). A duplicate delivery returns the
	// canonical record's id with isNew=false; the incoming record is not
	// re-inserted. File rows are written in the same transaction as the
	// commit row.
	UpsertCommit(ctx context.Context, c *models.Commit, files []*models.FileChange) (id string, isNew bool, err error)

	// CreateCommit is the strict-create variant: it fails with ErrConflict
	// when the fingerprint already exists in the repository scope.
	CreateCommit(ctx context.Context, c *models.Commit, files []*models.FileChange) (string, error)

	// GetCommit fetches metadata only; diff text is excluded on this fast
	// path.
	GetCommit(ctx context.Context, id string) (*models.Commit, error)

	// GetCommitWithDiff fetches the full record including raw diff text
	// and file changes.
	GetCommitWithDiff(ctx context.Context, id string) (*models.Commit, []*models.FileChange, error)

	// GetCommitByHash resolves the natural key (repository, commit hash).
	GetCommitByHash(ctx context.Context, repository, hash string) (*models.Commit, error)

	// ListCommits returns one page plus the total matching count.
	ListCommits(ctx context.Context, f Filter, p Page) ([]*models.Commit, int, error)

	// GetFileChanges returns the file rows owned by a commit.
	GetFileChanges(ctx context.Context, commitID string) ([]*models.FileChange, error)

	// DeleteCommit removes a commit; file rows cascade.
	DeleteCommit(ctx context.Context, id string) error

	// SetStatus transitions the commit lifecycle status.
	SetStatus(ctx context.Context, id string, status models.Status, processedAt *time.Time) error

	// AttachAnalysis stores the analysis result on the commit and the
	// per-file complexity/risk columns.
	AttachAnalysis(ctx context.Context, id string, result *models.AnalysisResult, fileComplexity map[string]int) error

	// UpsertSearchDocument replaces the commit's full-text document.
	UpsertSearchDocument(ctx context.Context, doc SearchDocument) error

	// SearchCommits runs a ranked full-text query. Message matches outrank
	// diff-content matches outrank author matches.
	SearchCommits(ctx context.Context, query string, f Filter, limit int) ([]models.SearchResult, error)

	Ping(ctx context.Context) error
	Close() error
}
