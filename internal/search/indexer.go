// Package search maintains the full-text index over ingested commits
// and answers ranked queries against it.
package search

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/committrace/committrace/internal/models"
	"github.com/committrace/committrace/internal/store"
)

// Indexer projects commits into the search document table. Indexing is
// idempotent: re-indexing a commit replaces its document in place.
type Indexer struct {
	store  store.Store
	logger *logrus.Logger
}

func NewIndexer(s store.Store, logger *logrus.Logger) *Indexer {
	return &Indexer{store: s, logger: logger}
}

// Index writes or replaces the search document for a commit. The diff
// is fetched from storage so callers can pass the metadata-only record.
func (i *Indexer) Index(ctx context.Context, commit *models.Commit) error {
	diff := commit.DiffContent
	if diff == "" {
		full, _, err := i.store.GetCommitWithDiff(ctx, commit.ID)
		if err != nil {
			return fmt.Errorf("loading diff for indexing: %w", err)
		}
		diff = full.DiffContent
	}

	doc := store.SearchDocument{
		CommitID:       commit.ID,
		RepositoryName: commit.RepositoryName,
		AuthorName:     commit.AuthorName,
		Message:        commit.Message,
		DiffContent:    diff,
	}
	if err := i.store.UpsertSearchDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing commit %s: %w", commit.ID, err)
	}

	i.logger.WithFields(logrus.Fields{
		"commit_id":  commit.ID,
		"repository": commit.RepositoryName,
	}).Debug("Commit indexed")
	return nil
}

// IndexByID re-indexes a commit from storage alone, used on replay.
func (i *Indexer) IndexByID(ctx context.Context, commitID string) error {
	commit, _, err := i.store.GetCommitWithDiff(ctx, commitID)
	if err != nil {
		return fmt.Errorf("loading commit for indexing: %w", err)
	}
	return i.Index(ctx, commit)
}

// Query holds the user-facing search parameters.
type Query struct {
	Text       string
	Repository string
	Author     string
	Limit      int
}

const defaultLimit = 20

// Search returns ranked matches for a free-text query. Message matches
// rank above diff matches, which rank above author matches.
func (i *Indexer) Search(ctx context.Context, q Query) ([]models.SearchResult, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	filter := store.Filter{Repository: q.Repository, Author: q.Author}
	results, err := i.store.SearchCommits(ctx, q.Text, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("searching commits: %w", err)
	}
	return results, nil
}
