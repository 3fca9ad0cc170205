// Package ingest coordinates the commit intake pipeline: normalization,
// fingerprinting, storage, analysis, and indexing, with bounded
// parallelism and per-step failure policies.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/committrace/committrace/internal/metrics"
	"github.com/committrace/committrace/internal/models"
	"github.com/committrace/committrace/internal/retryq"
	"github.com/committrace/committrace/internal/store"
)

// Analyzer is the pattern-analysis contract the coordinator needs.
type Analyzer interface {
	Version() string
	Analyze(commit *models.Commit, files []*models.FileChange) *models.AnalysisResult
	FileComplexity(fc *models.FileChange) int
}

// Indexer is the search-index contract the coordinator needs.
type Indexer interface {
	Index(ctx context.Context, commit *models.Commit) error
}

// Options tunes the coordinator's concurrency and retry behavior.
// Zero values select the defaults.
type Options struct {
	// Workers bounds parallel pipeline runs within one ingestion call.
	Workers int
	// RateLimit caps pipeline starts per second across the service.
	RateLimit rate.Limit
	Burst     int
	// StorageAttempts bounds upsert retries before a commit is failed.
	StorageAttempts int
	StorageBackoff  time.Duration
}

const (
	defaultWorkers         = 4
	defaultStorageAttempts = 3
	defaultStorageBackoff  = 200 * time.Millisecond
)

// Service is the ingestion coordinator and the facade collaborators
// call. The retry queue is optional; without it failed analysis and
// index steps are logged but not replayed.
type Service struct {
	store      store.Store
	analyzer   Analyzer
	indexer    Indexer
	aggregator *metrics.Aggregator
	retry      *retryq.Queue
	logger     *logrus.Logger

	limiter         *rate.Limiter
	workers         int
	storageAttempts int
	storageBackoff  time.Duration
}

func NewService(s store.Store, a Analyzer, idx Indexer, agg *metrics.Aggregator, retry *retryq.Queue, logger *logrus.Logger, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.StorageAttempts <= 0 {
		opts.StorageAttempts = defaultStorageAttempts
	}
	if opts.StorageBackoff <= 0 {
		opts.StorageBackoff = defaultStorageBackoff
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.Burst <= 0 {
		opts.Burst = opts.Workers
	}
	if agg == nil {
		agg = metrics.New(nil)
	}
	return &Service{
		store:           s,
		analyzer:        a,
		indexer:         idx,
		aggregator:      agg,
		retry:           retry,
		logger:          logger,
		limiter:         rate.NewLimiter(opts.RateLimit, opts.Burst),
		workers:         opts.Workers,
		storageAttempts: opts.StorageAttempts,
		storageBackoff:  opts.StorageBackoff,
	}
}

// IngestWebhook processes every commit in a push payload. Commits fan
// out across workers; the summary is accumulated with a commutative
// merge so completion order does not affect totals, and per-commit
// outcomes keep payload order.
func (s *Service) IngestWebhook(ctx context.Context, payload *models.WebhookPayload) (*models.IngestionSummary, error) {
	if payload == nil || len(payload.Commits) == 0 {
		return &models.IngestionSummary{}, nil
	}
	inputs, rejected := NormalizeWebhook(payload)

	summary := s.ingestBatch(ctx, inputs)
	summary.Received = len(payload.Commits)
	for _, r := range rejected {
		summary.Rejected++
		summary.Commits = append(summary.Commits, r)
	}
	s.logger.WithFields(logrus.Fields{
		"repository": payload.Repository.FullName,
		"received":   summary.Received,
		"stored":     summary.Stored,
		"duplicates": summary.Duplicates,
		"rejected":   summary.Rejected,
		"failed":     summary.Failed,
	}).Info("Webhook ingestion completed")
	return summary, nil
}

// IngestLocal processes a single local-scan commit descriptor.
func (s *Service) IngestLocal(ctx context.Context, lc *models.LocalCommit) (*models.IngestionSummary, error) {
	summary := &models.IngestionSummary{Received: 1}
	input, err := NormalizeLocal(lc)
	if err != nil {
		summary.Rejected = 1
		summary.Commits = append(summary.Commits, models.CommitOutcome{
			CommitHash:     lc.CommitHash,
			RepositoryName: repoNameFromPath(lc.RepositoryPath),
			Status:         models.StatusFailed,
			Error:          err.Error(),
		})
		return summary, nil
	}

	batch := s.ingestBatch(ctx, []models.CommitInput{input})
	batch.Received = 1
	return batch, nil
}

// ingestBatch fans inputs out over the worker pool and reduces the
// per-commit outcomes into one summary.
func (s *Service) ingestBatch(ctx context.Context, inputs []models.CommitInput) *models.IngestionSummary {
	outcomes := make([]models.CommitOutcome, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, input := range inputs {
		i, input := i, input
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				outcomes[i] = models.CommitOutcome{
					CommitHash:     input.CommitHash,
					RepositoryName: input.RepositoryName,
					Status:         models.StatusFailed,
					Error:          err.Error(),
				}
				return nil
			}
			outcomes[i] = s.runPipeline(gctx, input)
			return nil
		})
	}
	g.Wait()

	summary := &models.IngestionSummary{Received: len(inputs)}
	for _, o := range outcomes {
		partial := models.IngestionSummary{Commits: []models.CommitOutcome{o}}
		switch {
		case o.Status == models.StatusFailed:
			partial.Failed = 1
		case !o.IsNewRecord && o.CommitID != "":
			partial.Duplicates = 1
		default:
			partial.Stored = 1
		}
		if o.Error == "analysis degraded" {
			partial.Degraded = 1
		}
		summary.Merge(partial)
	}
	summary.Received = len(inputs)
	return summary
}

// GetCommit returns a stored commit, with or without its diff text.
func (s *Service) GetCommit(ctx context.Context, id string, includeDiff bool) (*models.Commit, []*models.FileChange, error) {
	if includeDiff {
		return s.store.GetCommitWithDiff(ctx, id)
	}
	c, err := s.store.GetCommit(ctx, id)
	return c, nil, err
}

// ListCommits pages through stored commit metadata.
func (s *Service) ListCommits(ctx context.Context, f store.Filter, p store.Page) ([]*models.Commit, int, error) {
	return s.store.ListCommits(ctx, f, p)
}

// SearchCommits answers a ranked full-text query.
func (s *Service) SearchCommits(ctx context.Context, query string, f store.Filter, limit int) ([]models.SearchResult, error) {
	return s.store.SearchCommits(ctx, query, f, limit)
}

// GetAnalysis returns the analysis attached to a commit. Callers can
// check Degraded to distinguish "no findings" from "analysis missing".
func (s *Service) GetAnalysis(ctx context.Context, commitID string) (*models.AnalysisResult, error) {
	c, err := s.store.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	if c.Analysis == nil {
		return markDegraded(s.analyzer.Version()), nil
	}
	return c.Analysis, nil
}

// metricsPageSize bounds each storage read while walking a window.
const metricsPageSize = 500

// GetMetrics aggregates productivity metrics over the filtered window.
// Pages are reduced incrementally so arbitrarily large windows never
// load all commits at once.
func (s *Service) GetMetrics(ctx context.Context, f store.Filter) (*models.AggregateMetrics, error) {
	var acc metrics.Partial
	first := true
	for page := 1; ; page++ {
		commits, total, err := s.store.ListCommits(ctx, f, store.Page{Number: page, Size: metricsPageSize})
		if err != nil {
			return nil, fmt.Errorf("listing commits for metrics: %w", err)
		}
		partial := s.aggregator.Reduce(commits)
		if first {
			acc = partial
			first = false
		} else {
			acc = metrics.Merge(acc, partial)
		}
		if page*metricsPageSize >= total || len(commits) == 0 {
			break
		}
	}
	return s.aggregator.Finalize(acc), nil
}

// GetWindowStats summarizes recent activity for one repository. The
// walk is paged the same way GetMetrics pages, so large repositories
// are counted in full.
func (s *Service) GetWindowStats(ctx context.Context, repository string) (*models.WindowStats, error) {
	var commits []*models.Commit
	f := store.Filter{Repository: repository}
	for page := 1; ; page++ {
		batch, total, err := s.store.ListCommits(ctx, f, store.Page{Number: page, Size: metricsPageSize})
		if err != nil {
			return nil, fmt.Errorf("listing commits for window stats: %w", err)
		}
		commits = append(commits, batch...)
		if page*metricsPageSize >= total || len(batch) == 0 {
			break
		}
	}
	return metrics.WindowStats(repository, commits, time.Now().UTC()), nil
}

// ReplayFailed drains due retry tasks, re-entering the pipeline at the
// failed step. Storage is already durable for these commits, so replay
// is idempotent.
func (s *Service) ReplayFailed(ctx context.Context) (int, error) {
	if s.retry == nil {
		return 0, nil
	}
	due, err := s.retry.Due(time.Now().UTC())
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, task := range due {
		if err := s.replayTask(ctx, task); err != nil {
			s.logger.WithFields(logrus.Fields{
				"commit_id": task.CommitID,
				"step":      task.Step,
			}).WithError(err).Warn("Replay attempt failed")
			if failErr := s.retry.Fail(task, err); failErr != nil {
				return replayed, failErr
			}
			continue
		}
		if err := s.retry.Ack(task); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func (s *Service) replayTask(ctx context.Context, task retryq.Task) error {
	commit, files, err := s.store.GetCommitWithDiff(ctx, task.CommitID)
	if err != nil {
		return fmt.Errorf("loading commit for replay: %w", err)
	}

	switch task.Step {
	case retryq.StepAnalyze:
		if _, err := s.analyzeAndAttach(ctx, commit, files); err != nil {
			return err
		}
	case retryq.StepIndex:
		if err := s.indexer.Index(ctx, commit); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown retry step %q", task.Step)
	}
	return nil
}
