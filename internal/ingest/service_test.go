package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/committrace/committrace/internal/analyzer"
	"github.com/committrace/committrace/internal/models"
	"github.com/committrace/committrace/internal/retryq"
	"github.com/committrace/committrace/internal/search"
	"github.com/committrace/committrace/internal/store"
)

const riskyDiff = `diff --git a/auth/login.py b/auth/login.py
index 1111111..2222222 100644
--- a/auth/login.py
+++ b/auth/login.py
@@ -10,3 +10,4 @@ def login(user):
-    return check(user)
+    password = "admin123"
+    return check(user, password)
`

const benignDiff = `diff --git a/README.md b/README.md
new file mode 100644
--- /dev/null
+++ b/README.md
@@ -0,0 +1,2 @@
+# Project
+Docs.
`

type fixture struct {
	svc   *Service
	store store.Store
	retry *retryq.Queue
}

func newFixture(t *testing.T, opts Options, wrap func(a Analyzer, i Indexer) (Analyzer, Indexer)) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "ingest.db"), 5*time.Second, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	retry, err := retryq.Open(filepath.Join(dir, "retry.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { retry.Close() })

	var a Analyzer = analyzer.New(nil)
	var idx Indexer = search.NewIndexer(s, logger)
	if wrap != nil {
		a, idx = wrap(a, idx)
	}
	svc := NewService(s, a, idx, nil, retry, logger, opts)
	return &fixture{svc: svc, store: s, retry: retry}
}

func pushPayload(hashes ...string) *models.WebhookPayload {
	payload := &models.WebhookPayload{
		EventType:  "push",
		Repository: models.WebhookRepository{FullName: "org/app"},
		Ref:        "refs/heads/main",
	}
	diffs := []string{riskyDiff, benignDiff}
	for i, hash := range hashes {
		payload.Commits = append(payload.Commits, models.WebhookCommit{
			ID:        hash,
			Message:   fmt.Sprintf("Change %d", i),
			Timestamp: time.Date(2025, 6, 1, 10, i, 0, 0, time.UTC),
			Author:    models.WebhookAuthor{Name: "Dana Dev", Email: "dana@example.com"},
			Diff:      diffs[i%len(diffs)],
		})
	}
	return payload
}

func TestIngestWebhook_EndToEnd(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	payload := pushPayload("aaa111", "bbb222")
	payload.Commits[0].Message = "Fix login bug"
	payload.Commits[1].Message = "Add project docs"

	summary, err := f.svc.IngestWebhook(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Received)
	assert.Equal(t, 2, summary.Stored)
	assert.Zero(t, summary.Failed)
	assert.Zero(t, summary.Duplicates)
	require.Len(t, summary.Commits, 2)

	// The hardcoded password commit carries at least a high tier.
	risky := summary.Commits[0]
	assert.Equal(t, "aaa111", risky.CommitHash)
	assert.True(t, risky.RiskTier == models.RiskHigh || risky.RiskTier == models.RiskCritical,
		"got tier %q", risky.RiskTier)

	commit, err := f.store.GetCommitByHash(ctx, "org/app", "aaa111")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, commit.Status)
	assert.Equal(t, "main", commit.Branch)
	assert.Equal(t, models.SourceWebhook, commit.Source)

	files, err := f.store.GetFileChanges(ctx, commit.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "auth/login.py", files[0].Path)
	assert.True(t, files[0].RiskTier == models.RiskHigh || files[0].RiskTier == models.RiskCritical)

	// Stored commits are searchable immediately after ingestion.
	results, err := f.svc.SearchCommits(ctx, "login", store.Filter{}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, commit.ID, results[0].CommitID)
}

func TestIngestWebhook_ReplayIsDuplicate(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	payload := pushPayload("aaa111", "bbb222")
	_, err := f.svc.IngestWebhook(ctx, payload)
	require.NoError(t, err)

	// Identical redelivery must not create new rows.
	summary, err := f.svc.IngestWebhook(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Duplicates)
	assert.Zero(t, summary.Stored)
	for _, o := range summary.Commits {
		assert.False(t, o.IsNewRecord)
	}

	_, total, err := f.svc.ListCommits(ctx, store.Filter{Repository: "org/app"}, store.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestIngestWebhook_RejectsMalformedCommit(t *testing.T) {
	f := newFixture(t, Options{}, nil)

	payload := pushPayload("aaa111")
	payload.Commits = append(payload.Commits, models.WebhookCommit{
		Message: "missing hash",
		Author:  models.WebhookAuthor{Name: "Dana Dev"},
	})

	summary, err := f.svc.IngestWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Received)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Rejected)
}

func TestIngestLocal(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	summary, err := f.svc.IngestLocal(ctx, &models.LocalCommit{
		CommitHash:     "local01",
		AuthorName:     "Sam Author",
		AuthorEmail:    "sam@example.com",
		Message:        "Refactor parser",
		CommitDate:     time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		Branch:         "main",
		RepositoryPath: "/home/sam/src/parser",
		Diff:           benignDiff,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)

	commit, err := f.store.GetCommitByHash(ctx, "parser", "local01")
	require.NoError(t, err)
	assert.Equal(t, models.SourceLocal, commit.Source)
}

func TestCrossSourceDedup(t *testing.T) {
	// The same diff arriving from webhook and local scan for one
	// repository resolves to one canonical record.
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	payload := pushPayload("aaa111")
	payload.Repository.FullName = "parser"
	_, err := f.svc.IngestWebhook(ctx, payload)
	require.NoError(t, err)

	summary, err := f.svc.IngestLocal(ctx, &models.LocalCommit{
		CommitHash:     "aaa111",
		AuthorName:     "Dana Dev",
		AuthorEmail:    "dana@example.com",
		Message:        "Change 0",
		CommitDate:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		RepositoryPath: "/src/parser",
		Diff:           riskyDiff,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Zero(t, summary.Stored)
}

type failingIndexer struct {
	failures int32
	inner    Indexer
}

func (f *failingIndexer) Index(ctx context.Context, c *models.Commit) error {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return errors.New("index backend unavailable")
	}
	return f.inner.Index(ctx, c)
}

func TestIndexFailureIsNonFatalAndReplayable(t *testing.T) {
	var flaky *failingIndexer
	f := newFixture(t, Options{}, func(a Analyzer, i Indexer) (Analyzer, Indexer) {
		flaky = &failingIndexer{failures: 1, inner: i}
		return a, flaky
	})
	ctx := context.Background()

	summary, err := f.svc.IngestWebhook(ctx, pushPayload("aaa111"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored, "index failure must not fail ingestion")

	commit, err := f.store.GetCommitByHash(ctx, "org/app", "aaa111")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, commit.Status)

	results, err := f.svc.SearchCommits(ctx, "change", store.Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, results, "nothing indexed yet")

	pending, err := f.retry.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	replayed, err := f.svc.ReplayFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, replayed, "task still in backoff")

	// Force the task due by draining its backoff window.
	due, err := f.retry.Due(time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, f.svc.replayTask(ctx, due[0]))
	require.NoError(t, f.retry.Ack(due[0]))

	results, err = f.svc.SearchCommits(ctx, "change", store.Filter{}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

type panickingAnalyzer struct{ Analyzer }

func (p panickingAnalyzer) Analyze(c *models.Commit, files []*models.FileChange) *models.AnalysisResult {
	panic("rule table corrupted")
}

func TestAnalysisFailureDegradesButStores(t *testing.T) {
	f := newFixture(t, Options{}, func(a Analyzer, i Indexer) (Analyzer, Indexer) {
		return panickingAnalyzer{a}, i
	})
	ctx := context.Background()

	summary, err := f.svc.IngestWebhook(ctx, pushPayload("aaa111"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stored)
	assert.Equal(t, 1, summary.Degraded)

	commit, err := f.store.GetCommitByHash(ctx, "org/app", "aaa111")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessed, commit.Status)

	analysis, err := f.svc.GetAnalysis(ctx, commit.ID)
	require.NoError(t, err)
	assert.True(t, analysis.Degraded, "callers must see analysis did not run")

	pending, err := f.retry.Pending()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestGetMetricsOverIngestedWindow(t *testing.T) {
	f := newFixture(t, Options{Workers: 2}, nil)
	ctx := context.Background()

	authors := []string{"A", "A", "A", "B", "C"}
	for i := 0; i < 10; i++ {
		_, err := f.svc.IngestLocal(ctx, &models.LocalCommit{
			CommitHash:     fmt.Sprintf("hash%02d", i),
			AuthorName:     authors[i%len(authors)],
			AuthorEmail:    authors[i%len(authors)] + "@example.com",
			Message:        fmt.Sprintf("Change number %d", i),
			CommitDate:     time.Date(2025, 6, 1, 10, i, 0, 0, time.UTC),
			RepositoryPath: "/src/app",
			LinesAdded:     90,
			Diff:           fmt.Sprintf("%s\n+marker %d\n", benignDiff, i),
		})
		require.NoError(t, err)
	}

	m, err := f.svc.GetMetrics(ctx, store.Filter{Repository: "app"})
	require.NoError(t, err)
	assert.Equal(t, 10, m.CommitCount)
	assert.Equal(t, 3, m.UniqueAuthors)
	assert.Equal(t, 900, m.TotalLinesAdded)
	assert.GreaterOrEqual(t, m.ProductivityScore, 0)
	assert.LessOrEqual(t, m.ProductivityScore, 100)
}

// pagingStore serves a fixed commit set one page at a time; everything
// else is inherited from the embedded nil interface and must not be hit.
type pagingStore struct {
	store.Store
	commits []*models.Commit
	calls   int
}

func (p *pagingStore) ListCommits(_ context.Context, _ store.Filter, pg store.Page) ([]*models.Commit, int, error) {
	p.calls++
	start := (pg.Number - 1) * pg.Size
	if start < 0 {
		start = 0
	}
	if start >= len(p.commits) {
		return nil, len(p.commits), nil
	}
	end := start + pg.Size
	if end > len(p.commits) {
		end = len(p.commits)
	}
	return p.commits[start:end], len(p.commits), nil
}

func TestGetWindowStatsWalksEveryPage(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	total := metricsPageSize + 250
	ps := &pagingStore{}
	now := time.Now().UTC()
	for i := 0; i < total; i++ {
		ps.commits = append(ps.commits, &models.Commit{
			CommitHash:     fmt.Sprintf("hash%04d", i),
			RepositoryName: "app",
			AuthorName:     "A",
			CommitDate:     now.Add(-time.Duration(i) * time.Minute),
		})
	}
	svc := NewService(ps, nil, nil, nil, nil, logger, Options{})

	stats, err := svc.GetWindowStats(context.Background(), "app")
	require.NoError(t, err)
	assert.Equal(t, total, stats.TotalCommits)
	assert.GreaterOrEqual(t, ps.calls, 2, "commits beyond the first page must be read")
}

func TestGetCommitIncludeDiffToggle(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()

	summary, err := f.svc.IngestWebhook(ctx, pushPayload("aaa111"))
	require.NoError(t, err)
	id := summary.Commits[0].CommitID

	meta, _, err := f.svc.GetCommit(ctx, id, false)
	require.NoError(t, err)
	assert.Empty(t, meta.DiffContent)

	full, files, err := f.svc.GetCommit(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, riskyDiff, full.DiffContent)
	assert.Len(t, files, 1)
}

func TestNormalizeWebhookFileDiffsFallback(t *testing.T) {
	payload := &models.WebhookPayload{
		Repository: models.WebhookRepository{FullName: "org/app"},
		Ref:        "refs/heads/dev",
		Commits: []models.WebhookCommit{{
			ID:        "fd1",
			Message:   "split diffs",
			Timestamp: time.Now(),
			Author:    models.WebhookAuthor{Name: "Dana Dev", Email: "dana@example.com"},
			FileDiffs: map[string]string{
				"b.go": "+second\n",
				"a.go": "+first\n",
			},
		}},
	}

	inputs, rejected := NormalizeWebhook(payload)
	require.Empty(t, rejected)
	require.Len(t, inputs, 1)
	assert.Equal(t, "+first\n+second\n", inputs[0].Diff, "path order keeps the fingerprint stable")
	assert.Equal(t, "dev", inputs[0].Branch)
}

func TestNormalizeLocalUsesRepoDirName(t *testing.T) {
	input, err := NormalizeLocal(&models.LocalCommit{
		CommitHash:     "x1",
		AuthorName:     "Sam Author",
		RepositoryPath: "/home/sam/src/widget/",
		Diff:           "+x\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "widget", input.RepositoryName)
	assert.Equal(t, models.SourceLocal, input.Origin)
	assert.False(t, input.CommitDate.IsZero())
}
