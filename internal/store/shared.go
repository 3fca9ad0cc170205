package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/committrace/committrace/internal/models"
)

// prepareCommit fills the surrogate id, defaults, and bookkeeping
// timestamps on a record about to be inserted.
func prepareCommit(c *models.Commit) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if c.RiskTier == "" {
		c.RiskTier = models.RiskLow
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

// insertFiles writes the commit's file rows inside the caller's
// transaction so commit and files land atomically.
func insertFiles(ctx context.Context, tx *sqlx.Tx, commitID string, files []*models.FileChange) error {
	query := tx.Rebind(`
		INSERT INTO commit_files (id, commit_id, filename, path, extension, kind,
			additions, deletions, diff_content, size_before, size_after, language,
			complexity_score, risk_tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	now := time.Now().UTC()
	for _, fc := range files {
		if fc.ID == "" {
			fc.ID = uuid.NewString()
		}
		fc.CommitID = commitID
		if fc.CreatedAt.IsZero() {
			fc.CreatedAt = now
		}
		if fc.RiskTier == "" {
			fc.RiskTier = models.RiskLow
		}
		if _, err := tx.ExecContext(ctx, query,
			fc.ID, fc.CommitID, fc.Filename, fc.Path, fc.Extension, fc.Kind,
			fc.Additions, fc.Deletions, fc.DiffContent, fc.SizeBefore, fc.SizeAfter,
			fc.Language, fc.ComplexityScore, fc.RiskTier, fc.CreatedAt); err != nil {
			return fmt.Errorf("insert file change %s: %w", fc.Path, err)
		}
	}
	return nil
}

func selectFiles(ctx context.Context, db *sqlx.DB, commitID string) ([]*models.FileChange, error) {
	var files []*models.FileChange
	query := db.Rebind(`SELECT id, commit_id, filename, path, extension, kind, additions,
		deletions, diff_content, size_before, size_after, language, complexity_score,
		risk_tier, created_at
		FROM commit_files WHERE commit_id = ? ORDER BY path`)
	if err := db.SelectContext(ctx, &files, query, commitID); err != nil {
		return nil, fmt.Errorf("get file changes: %w", err)
	}
	return files, nil
}

func deleteCommit(ctx context.Context, db *sqlx.DB, id string) error {
	res, err := db.ExecContext(ctx, db.Rebind(`DELETE FROM commits WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete commit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func setStatus(ctx context.Context, db *sqlx.DB, id string, status models.Status, processedAt *time.Time) error {
	res, err := db.ExecContext(ctx,
		db.Rebind(`UPDATE commits SET status = ?, processed_at = ?, updated_at = ? WHERE id = ?`),
		status, processedAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func attachAnalysis(ctx context.Context, db *sqlx.DB, id string, result *models.AnalysisResult, fileComplexity map[string]int) error {
	analysis, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal analysis: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE commits SET analysis = ?, risk_tier = ?, updated_at = ? WHERE id = ?`),
		analysis, result.OverallRisk, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("attach analysis: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	fileQuery := tx.Rebind(`UPDATE commit_files SET risk_tier = ?, complexity_score = ? WHERE commit_id = ? AND path = ?`)
	for path, tier := range result.FileTiers {
		if _, err := tx.ExecContext(ctx, fileQuery, tier, fileComplexity[path], id, path); err != nil {
			return fmt.Errorf("update file analysis: %w", err)
		}
	}
	return tx.Commit()
}

// strictCreate layers create-or-fail semantics over the shared upsert so
// both backends report duplicates the same way.
func strictCreate(ctx context.Context, s Store, c *models.Commit, files []*models.FileChange) (string, error) {
	id, isNew, err := s.UpsertCommit(ctx, c, files)
	if err != nil {
		return "", err
	}
	if !isNew {
		return "", fmt.Errorf("fingerprint %s already exists in %s: %w",
			shortHash(c.Fingerprint), c.RepositoryName, ErrConflict)
	}
	return id, nil
}

// buildFilter renders a WHERE clause with ?-style placeholders; callers
// pass the result through Rebind for their backend.
func buildFilter(f Filter) (string, []interface{}) {
	where := ""
	var args []interface{}

	add := func(clause string, val interface{}) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, val)
	}

	if f.Repository != "" {
		add("repository_name = ?", f.Repository)
	}
	if f.Author != "" {
		add("LOWER(author_name) LIKE ?", "%"+strings.ToLower(f.Author)+"%")
	}
	if f.Branch != "" {
		add("branch = ?", f.Branch)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if f.Since != nil {
		add("commit_date >= ?", *f.Since)
	}
	if f.Until != nil {
		add("commit_date < ?", *f.Until)
	}
	return where, args
}

func marshalNullable(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
