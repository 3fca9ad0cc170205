package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/committrace/committrace/internal/models"
)

// SQLiteStore implements Store using SQLite for the local profile.
// Full-text search degrades to a weighted substring match with the same
// field precedence as the Postgres tsvector ranking.
type SQLiteStore struct {
	db      *sqlx.DB
	logger  *logrus.Logger
	timeout time.Duration
}

// NewSQLiteStore opens (and initializes) a SQLite database at path.
// ":memory:" is accepted for tests.
func NewSQLiteStore(path string, timeout time.Duration, logger *logrus.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// DSN pragmas apply to every pooled connection, unlike PRAGMA
	// statements run on a single one.
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL"
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}

	// An in-memory database exists per connection; cap the pool so tests
	// against ":memory:" see one database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	s := &SQLiteStore{db: db, logger: logger, timeout: timeout}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. Idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *SQLiteStore) UpsertCommit(ctx context.Context, c *models.Commit, files []*models.FileChange) (string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	prepareCommit(c)
	metadata, err := marshalNullable(c.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal metadata: %w", err)
	}
	parents, err := json.Marshal(c.ParentHashes)
	if err != nil {
		return "", false, fmt.Errorf("marshal parent hashes: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO commits (id, commit_hash, repository_name, author_name, author_email,
			message, commit_date, source, branch, parent_hashes, lines_added, lines_deleted,
			metadata, status, diff_content, fingerprint, risk_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CommitHash, c.RepositoryName, c.AuthorName, c.AuthorEmail,
		c.Message, c.CommitDate, c.Source, c.Branch, string(parents),
		c.LinesAdded, c.LinesDeleted, nullableText(metadata), c.Status, c.DiffContent,
		c.Fingerprint, c.RiskTier, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return "", false, fmt.Errorf("insert commit: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		var existing string
		if err := tx.QueryRowxContext(ctx,
			`SELECT id FROM commits WHERE repository_name = ? AND fingerprint = ?`,
			c.RepositoryName, c.Fingerprint).Scan(&existing); err != nil {
			return "", false, fmt.Errorf("resolve duplicate fingerprint: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("commit transaction: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"repository":  c.RepositoryName,
			"commit_hash": shortHash(c.CommitHash),
			"existing_id": existing,
		}).Info("duplicate fingerprint, linked to canonical record")
		return existing, false, nil
	}

	if err := insertFiles(ctx, tx, c.ID, files); err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit transaction: %w", err)
	}
	return c.ID, true, nil
}

func (s *SQLiteStore) CreateCommit(ctx context.Context, c *models.Commit, files []*models.FileChange) (string, error) {
	return strictCreate(ctx, s, c, files)
}

func (s *SQLiteStore) GetCommit(ctx context.Context, id string) (*models.Commit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row sqliteCommitRow
	query := `SELECT ` + commitColumns + ` FROM commits WHERE id = ?`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commit: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) GetCommitByHash(ctx context.Context, repository, hash string) (*models.Commit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row sqliteCommitRow
	query := `SELECT ` + commitColumns + ` FROM commits WHERE repository_name = ? AND commit_hash = ?`
	if err := s.db.GetContext(ctx, &row, query, repository, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commit by hash: %w", err)
	}
	return row.toModel()
}

func (s *SQLiteStore) GetCommitWithDiff(ctx context.Context, id string) (*models.Commit, []*models.FileChange, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row sqliteCommitRow
	query := `SELECT ` + commitColumns + `, diff_content FROM commits WHERE id = ?`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get commit with diff: %w", err)
	}
	commit, err := row.toModel()
	if err != nil {
		return nil, nil, err
	}
	files, err := selectFiles(ctx, s.db, id)
	if err != nil {
		return nil, nil, err
	}
	return commit, files, nil
}

func (s *SQLiteStore) ListCommits(ctx context.Context, f Filter, p Page) ([]*models.Commit, int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	where, args := buildFilter(f)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM commits`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count commits: %w", err)
	}

	query := `SELECT ` + commitColumns + ` FROM commits` + where +
		` ORDER BY commit_date DESC LIMIT ? OFFSET ?`
	args = append(args, p.limit(), p.offset())

	var rows []sqliteCommitRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list commits: %w", err)
	}

	commits := make([]*models.Commit, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toModel()
		if err != nil {
			return nil, 0, err
		}
		commits = append(commits, c)
	}
	return commits, total, nil
}

func (s *SQLiteStore) GetFileChanges(ctx context.Context, commitID string) ([]*models.FileChange, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return selectFiles(ctx, s.db, commitID)
}

func (s *SQLiteStore) DeleteCommit(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return deleteCommit(ctx, s.db, id)
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status models.Status, processedAt *time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return setStatus(ctx, s.db, id, status, processedAt)
}

func (s *SQLiteStore) AttachAnalysis(ctx context.Context, id string, result *models.AnalysisResult, fileComplexity map[string]int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return attachAnalysis(ctx, s.db, id, result, fileComplexity)
}

func (s *SQLiteStore) UpsertSearchDocument(ctx context.Context, doc SearchDocument) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_documents (commit_id, repository_name, author_name, message, diff_content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (commit_id) DO UPDATE SET
			repository_name = excluded.repository_name,
			author_name = excluded.author_name,
			message = excluded.message,
			diff_content = excluded.diff_content,
			updated_at = excluded.updated_at
	`, doc.CommitID, doc.RepositoryName, doc.AuthorName, doc.Message, doc.DiffContent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert search document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SearchCommits(ctx context.Context, query string, f Filter, limit int) ([]models.SearchResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	// Weighted substring ranking: message > diff content > author, the
	// same precedence the Postgres tsvector uses.
	sqlQuery := `
		SELECT id, commit_hash, repository_name, author_name, message, created_at, rank FROM (
			SELECT c.id, c.commit_hash, c.repository_name, c.author_name, c.message, c.created_at,
				((CASE WHEN instr(lower(d.message), lower(?)) > 0 THEN 4.0 ELSE 0.0 END) +
				 (CASE WHEN instr(lower(d.diff_content), lower(?)) > 0 THEN 2.0 ELSE 0.0 END) +
				 (CASE WHEN instr(lower(d.author_name), lower(?)) > 0 THEN 1.0 ELSE 0.0 END)) AS rank
			FROM search_documents d
			JOIN commits c ON c.id = d.commit_id`
	args := []interface{}{query, query, query}
	innerWhere := ""
	if f.Repository != "" {
		innerWhere = ` WHERE c.repository_name = ?`
		args = append(args, f.Repository)
	}
	if f.Author != "" {
		if innerWhere == "" {
			innerWhere = ` WHERE c.author_name LIKE ?`
		} else {
			innerWhere += ` AND c.author_name LIKE ?`
		}
		args = append(args, "%"+f.Author+"%")
	}
	sqlQuery += innerWhere + `
		) WHERE rank > 0 ORDER BY rank DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryxContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search commits: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.CommitID, &r.CommitHash, &r.RepositoryName,
			&r.AuthorName, &r.Message, &r.CreatedAt, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type sqliteCommitRow struct {
	ID             string         `db:"id"`
	CommitHash     string         `db:"commit_hash"`
	RepositoryName string         `db:"repository_name"`
	AuthorName     string         `db:"author_name"`
	AuthorEmail    string         `db:"author_email"`
	Message        string         `db:"message"`
	CommitDate     time.Time      `db:"commit_date"`
	Source         string         `db:"source"`
	Branch         string         `db:"branch"`
	ParentHashes   string         `db:"parent_hashes"`
	LinesAdded     int            `db:"lines_added"`
	LinesDeleted   int            `db:"lines_deleted"`
	Metadata       sql.NullString `db:"metadata"`
	Status         string         `db:"status"`
	Fingerprint    string         `db:"fingerprint"`
	RiskTier       string         `db:"risk_tier"`
	Analysis       sql.NullString `db:"analysis"`
	CreatedAt      time.Time      `db:"created_at"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	DiffContent    string         `db:"diff_content"`
}

func (r *sqliteCommitRow) toModel() (*models.Commit, error) {
	c := &models.Commit{
		ID:             r.ID,
		CommitHash:     r.CommitHash,
		RepositoryName: r.RepositoryName,
		AuthorName:     r.AuthorName,
		AuthorEmail:    r.AuthorEmail,
		Message:        r.Message,
		CommitDate:     r.CommitDate,
		Source:         models.Source(r.Source),
		Branch:         r.Branch,
		LinesAdded:     r.LinesAdded,
		LinesDeleted:   r.LinesDeleted,
		Status:         models.Status(r.Status),
		Fingerprint:    r.Fingerprint,
		RiskTier:       models.RiskTier(r.RiskTier),
		DiffContent:    r.DiffContent,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ProcessedAt.Valid {
		t := r.ProcessedAt.Time
		c.ProcessedAt = &t
	}
	if r.ParentHashes != "" {
		if err := json.Unmarshal([]byte(r.ParentHashes), &c.ParentHashes); err != nil {
			return nil, fmt.Errorf("unmarshal parent hashes: %w", err)
		}
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if r.Analysis.Valid && r.Analysis.String != "" {
		c.Analysis = &models.AnalysisResult{}
		if err := json.Unmarshal([]byte(r.Analysis.String), c.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	return c, nil
}

// nullableText converts optional JSON to a driver-friendly value.
func nullableText(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
