package store

// postgresSchema is applied by the migrate command. The unique constraint
// on (repository_name, fingerprint) is the single point of mutual
// exclusion for duplicate deliveries; the search document tsvector is
// generated so it can never drift from its content columns.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS commits (
	id UUID PRIMARY KEY,
	commit_hash VARCHAR(64) NOT NULL,
	repository_name VARCHAR(255) NOT NULL,
	author_name VARCHAR(255) NOT NULL,
	author_email VARCHAR(255) NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	commit_date TIMESTAMPTZ NOT NULL,
	source VARCHAR(16) NOT NULL,
	branch VARCHAR(255) NOT NULL DEFAULT '',
	parent_hashes TEXT[] NOT NULL DEFAULT '{}',
	lines_added INTEGER NOT NULL DEFAULT 0,
	lines_deleted INTEGER NOT NULL DEFAULT 0,
	metadata JSONB,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	diff_content TEXT NOT NULL DEFAULT '',
	fingerprint VARCHAR(64) NOT NULL,
	risk_tier VARCHAR(16) NOT NULL DEFAULT 'low',
	analysis JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	CONSTRAINT uq_commits_repo_fingerprint UNIQUE (repository_name, fingerprint)
);

CREATE INDEX IF NOT EXISTS ix_commits_commit_hash ON commits (commit_hash);
CREATE INDEX IF NOT EXISTS ix_commits_repository_name ON commits (repository_name);
CREATE INDEX IF NOT EXISTS ix_commits_author_name ON commits (author_name);
CREATE INDEX IF NOT EXISTS ix_commits_commit_date ON commits (commit_date);
CREATE INDEX IF NOT EXISTS ix_commits_status ON commits (status);

CREATE TABLE IF NOT EXISTS commit_files (
	id UUID PRIMARY KEY,
	commit_id UUID NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
	filename VARCHAR(500) NOT NULL,
	path VARCHAR(1000) NOT NULL,
	extension VARCHAR(20) NOT NULL DEFAULT '',
	kind VARCHAR(16) NOT NULL,
	additions INTEGER NOT NULL DEFAULT 0,
	deletions INTEGER NOT NULL DEFAULT 0,
	diff_content TEXT NOT NULL DEFAULT '',
	size_before INTEGER NOT NULL DEFAULT 0,
	size_after INTEGER NOT NULL DEFAULT 0,
	language VARCHAR(50) NOT NULL DEFAULT '',
	complexity_score INTEGER NOT NULL DEFAULT 0,
	risk_tier VARCHAR(16) NOT NULL DEFAULT 'low',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_commit_files_commit_id ON commit_files (commit_id);
CREATE INDEX IF NOT EXISTS ix_commit_files_risk_tier ON commit_files (risk_tier);

CREATE TABLE IF NOT EXISTS search_documents (
	commit_id UUID PRIMARY KEY REFERENCES commits(id) ON DELETE CASCADE,
	repository_name VARCHAR(255) NOT NULL,
	author_name VARCHAR(255) NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	diff_content TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	search_vector tsvector GENERATED ALWAYS AS (
		setweight(to_tsvector('english', coalesce(message, '')), 'A') ||
		setweight(to_tsvector('english', coalesce(diff_content, '')), 'B') ||
		setweight(to_tsvector('english', coalesce(author_name, '')), 'C')
	) STORED
);

CREATE INDEX IF NOT EXISTS ix_search_documents_vector ON search_documents USING GIN (search_vector);
`

// sqliteSchema mirrors the Postgres layout. Arrays and maps are stored as
// JSON text; search falls back to a weighted substring match.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS commits (
	id TEXT PRIMARY KEY,
	commit_hash TEXT NOT NULL,
	repository_name TEXT NOT NULL,
	author_name TEXT NOT NULL,
	author_email TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	commit_date DATETIME NOT NULL,
	source TEXT NOT NULL,
	branch TEXT NOT NULL DEFAULT '',
	parent_hashes TEXT NOT NULL DEFAULT '[]',
	lines_added INTEGER NOT NULL DEFAULT 0,
	lines_deleted INTEGER NOT NULL DEFAULT 0,
	metadata TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	diff_content TEXT NOT NULL DEFAULT '',
	fingerprint TEXT NOT NULL,
	risk_tier TEXT NOT NULL DEFAULT 'low',
	analysis TEXT,
	created_at DATETIME NOT NULL,
	processed_at DATETIME,
	updated_at DATETIME NOT NULL,
	UNIQUE (repository_name, fingerprint)
);

CREATE INDEX IF NOT EXISTS ix_commits_commit_hash ON commits (commit_hash);
CREATE INDEX IF NOT EXISTS ix_commits_repository_name ON commits (repository_name);
CREATE INDEX IF NOT EXISTS ix_commits_status ON commits (status);

CREATE TABLE IF NOT EXISTS commit_files (
	id TEXT PRIMARY KEY,
	commit_id TEXT NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	path TEXT NOT NULL,
	extension TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	additions INTEGER NOT NULL DEFAULT 0,
	deletions INTEGER NOT NULL DEFAULT 0,
	diff_content TEXT NOT NULL DEFAULT '',
	size_before INTEGER NOT NULL DEFAULT 0,
	size_after INTEGER NOT NULL DEFAULT 0,
	language TEXT NOT NULL DEFAULT '',
	complexity_score INTEGER NOT NULL DEFAULT 0,
	risk_tier TEXT NOT NULL DEFAULT 'low',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_commit_files_commit_id ON commit_files (commit_id);

CREATE TABLE IF NOT EXISTS search_documents (
	commit_id TEXT PRIMARY KEY REFERENCES commits(id) ON DELETE CASCADE,
	repository_name TEXT NOT NULL,
	author_name TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	diff_content TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`
