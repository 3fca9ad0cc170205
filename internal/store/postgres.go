package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/committrace/committrace/internal/models"
)

// commitColumns excludes diff_content: the metadata path never pays for
// diff text.
const commitColumns = `id, commit_hash, repository_name, author_name, author_email,
	message, commit_date, source, branch, parent_hashes, lines_added, lines_deleted,
	metadata, status, fingerprint, risk_tier, analysis, created_at, processed_at, updated_at`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db      *sqlx.DB
	logger  *logrus.Logger
	timeout time.Duration
}

// NewPostgresStore connects to PostgreSQL and configures the pool.
func NewPostgresStore(dsn string, timeout time.Duration, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PostgresStore{
		db:      db,
		logger:  logger,
		timeout: timeout,
	}, nil
}

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	s.logger.Info("postgres schema applied")
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// opCtx bounds every store operation so a stalled database surfaces as a
// retryable failure instead of blocking the pipeline.
func (s *PostgresStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PostgresStore) UpsertCommit(ctx context.Context, c *models.Commit, files []*models.FileChange) (string, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	prepareCommit(c)
	metadata, err := marshalNullable(c.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The conditional insert is the single point of mutual exclusion for
	// concurrent duplicate deliveries of the same fingerprint.
	var id string
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO commits (id, commit_hash, repository_name, author_name, author_email,
			message, commit_date, source, branch, parent_hashes, lines_added, lines_deleted,
			metadata, status, diff_content, fingerprint, risk_tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (repository_name, fingerprint) DO NOTHING
		RETURNING id
	`, c.ID, c.CommitHash, c.RepositoryName, c.AuthorName, c.AuthorEmail,
		c.Message, c.CommitDate, c.Source, c.Branch, pq.Array(c.ParentHashes),
		c.LinesAdded, c.LinesDeleted, metadata, c.Status, c.DiffContent,
		c.Fingerprint, c.RiskTier, c.CreatedAt, c.UpdatedAt).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		var existing string
		if err := tx.QueryRowxContext(ctx,
			`SELECT id FROM commits WHERE repository_name = $1 AND fingerprint = $2`,
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
	if err != nil {
		return "", false, fmt.Errorf("insert commit: %w", err)
	}

	if err := insertFiles(ctx, tx, id, files); err != nil {
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit transaction: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) CreateCommit(ctx context.Context, c *models.Commit, files []*models.FileChange) (string, error) {
	return strictCreate(ctx, s, c, files)
}

func (s *PostgresStore) GetCommit(ctx context.Context, id string) (*models.Commit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row pgCommitRow
	query := `SELECT ` + commitColumns + ` FROM commits WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commit: %w", err)
	}
	return row.toModel()
}

func (s *PostgresStore) GetCommitByHash(ctx context.Context, repository, hash string) (*models.Commit, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row pgCommitRow
	query := `SELECT ` + commitColumns + ` FROM commits WHERE repository_name = $1 AND commit_hash = $2`
	if err := s.db.GetContext(ctx, &row, query, repository, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get commit by hash: %w", err)
	}
	return row.toModel()
}

func (s *PostgresStore) GetCommitWithDiff(ctx context.Context, id string) (*models.Commit, []*models.FileChange, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var row pgCommitRow
	query := `SELECT ` + commitColumns + `, diff_content FROM commits WHERE id = $1`
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
	files, err := s.GetFileChanges(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return commit, files, nil
}

func (s *PostgresStore) ListCommits(ctx context.Context, f Filter, p Page) ([]*models.Commit, int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	where, args := buildFilter(f)

	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM commits` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count commits: %w", err)
	}

	query := s.db.Rebind(`SELECT ` + commitColumns + ` FROM commits` + where +
		` ORDER BY commit_date DESC LIMIT ? OFFSET ?`)
	args = append(args, p.limit(), p.offset())

	var rows []pgCommitRow
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

func (s *PostgresStore) GetFileChanges(ctx context.Context, commitID string) ([]*models.FileChange, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return selectFiles(ctx, s.db, commitID)
}

func (s *PostgresStore) DeleteCommit(ctx context.Context, id string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return deleteCommit(ctx, s.db, id)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status models.Status, processedAt *time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return setStatus(ctx, s.db, id, status, processedAt)
}

func (s *PostgresStore) AttachAnalysis(ctx context.Context, id string, result *models.AnalysisResult, fileComplexity map[string]int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return attachAnalysis(ctx, s.db, id, result, fileComplexity)
}

func (s *PostgresStore) UpsertSearchDocument(ctx context.Context, doc SearchDocument) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_documents (commit_id, repository_name, author_name, message, diff_content, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (commit_id) DO UPDATE SET
			repository_name = EXCLUDED.repository_name,
			author_name = EXCLUDED.author_name,
			message = EXCLUDED.message,
			diff_content = EXCLUDED.diff_content,
			updated_at = EXCLUDED.updated_at
	`, doc.CommitID, doc.RepositoryName, doc.AuthorName, doc.Message, doc.DiffContent, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert search document: %w", err)
	}
	return nil
}

func (s *PostgresStore) SearchCommits(ctx context.Context, query string, f Filter, limit int) ([]models.SearchResult, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	sqlQuery := `
		SELECT c.id, c.commit_hash, c.repository_name, c.author_name, c.message, c.created_at,
			ts_rank(d.search_vector, plainto_tsquery('english', ?)) AS rank
		FROM search_documents d
		JOIN commits c ON c.id = d.commit_id
		WHERE d.search_vector @@ plainto_tsquery('english', ?)`
	args := []interface{}{query, query}
	if f.Repository != "" {
		sqlQuery += ` AND c.repository_name = ?`
		args = append(args, f.Repository)
	}
	if f.Author != "" {
		sqlQuery += ` AND c.author_name ILIKE ?`
		args = append(args, "%"+f.Author+"%")
	}
	sqlQuery += ` ORDER BY rank DESC, c.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(sqlQuery), args...)
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

// pgCommitRow maps a commits row; the array and JSON columns need
// conversion before the model is handed to callers.
type pgCommitRow struct {
	ID             string          `db:"id"`
	CommitHash     string          `db:"commit_hash"`
	RepositoryName string          `db:"repository_name"`
	AuthorName     string          `db:"author_name"`
	AuthorEmail    string          `db:"author_email"`
	Message        string          `db:"message"`
	CommitDate     time.Time       `db:"commit_date"`
	Source         string          `db:"source"`
	Branch         string          `db:"branch"`
	ParentHashes   pq.StringArray  `db:"parent_hashes"`
	LinesAdded     int             `db:"lines_added"`
	LinesDeleted   int             `db:"lines_deleted"`
	Metadata       json.RawMessage `db:"metadata"`
	Status         string          `db:"status"`
	Fingerprint    string          `db:"fingerprint"`
	RiskTier       string          `db:"risk_tier"`
	Analysis       json.RawMessage `db:"analysis"`
	CreatedAt      time.Time       `db:"created_at"`
	ProcessedAt    sql.NullTime    `db:"processed_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	DiffContent    string          `db:"diff_content"`
}

func (r *pgCommitRow) toModel() (*models.Commit, error) {
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
		ParentHashes:   []string(r.ParentHashes),
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
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(r.Analysis) > 0 {
		c.Analysis = &models.AnalysisResult{}
		if err := json.Unmarshal(r.Analysis, c.Analysis); err != nil {
			return nil, fmt.Errorf("unmarshal analysis: %w", err)
		}
	}
	return c, nil
}
