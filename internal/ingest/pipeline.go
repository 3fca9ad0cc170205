package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/committrace/committrace/internal/diffparse"
	"github.com/committrace/committrace/internal/fingerprint"
	"github.com/committrace/committrace/internal/models"
	"github.com/committrace/committrace/internal/retryq"
)

// State names one stage of a commit's pipeline run. Transitions are
// sequential; failed is terminal and reachable from any stage.
type State string

const (
	StateReceived      State = "received"
	StateFingerprinted State = "fingerprinted"
	StateStored        State = "stored"
	StateAnalyzed      State = "analyzed"
	StateIndexed       State = "indexed"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// runPipeline drives a single normalized commit through the full
// ingestion sequence. Storage is the only hard dependency: a commit
// that persists but fails analysis or indexing still counts as
// ingested, with the failed step queued for replay.
func (s *Service) runPipeline(ctx context.Context, input models.CommitInput) models.CommitOutcome {
	outcome := models.CommitOutcome{
		CommitHash:     input.CommitHash,
		RepositoryName: input.RepositoryName,
	}
	log := s.logger.WithFields(logrus.Fields{
		"commit":     shortRef(input.CommitHash),
		"repository": input.RepositoryName,
		"origin":     input.Origin,
	})

	// received -> fingerprinted
	fp := fingerprint.SumString(input.Diff)

	// fingerprinted -> stored
	commit, files := buildRecords(input, fp)
	id, isNew, err := s.storeWithRetry(ctx, commit, files)
	if err != nil {
		log.WithError(err).Error("Commit ingestion failed at storage")
		outcome.Status = models.StatusFailed
		outcome.Error = stepErr(StateStored, KindStorage, input.CommitHash, input.RepositoryName, err).Error()
		return outcome
	}
	outcome.CommitID = id
	outcome.IsNewRecord = isNew
	if !isNew {
		// Duplicate delivery of an already-canonical record. The
		// existing row keeps its analysis and index entry.
		log.WithField("commit_id", id).Debug("Duplicate fingerprint, linked to existing record")
		existing, err := s.store.GetCommit(ctx, id)
		if err == nil {
			outcome.Status = existing.Status
			outcome.RiskTier = existing.RiskTier
		} else {
			outcome.Status = models.StatusProcessed
		}
		return outcome
	}
	commit.ID = id

	// stored -> analyzed
	degraded := false
	result, err := s.analyzeAndAttach(ctx, commit, files)
	if err != nil {
		log.WithError(err).Warn("Analysis step failed, commit marked degraded")
		degraded = true
		// Best effort: distinguish "analysis did not run" from "no
		// findings" for readers of the stored record.
		if attachErr := s.store.AttachAnalysis(ctx, id, markDegraded(s.analyzer.Version()), nil); attachErr != nil {
			log.WithError(attachErr).Debug("Could not persist degraded analysis marker")
		}
		s.enqueueRetry(commit, retryq.StepAnalyze, err)
	} else {
		outcome.RiskTier = result.OverallRisk
	}

	// analyzed -> indexed
	commit.DiffContent = input.Diff
	if err := s.indexer.Index(ctx, commit); err != nil {
		log.WithError(err).Warn("Index step failed, queued for retry")
		s.enqueueRetry(commit, retryq.StepIndex, err)
	}

	// indexed -> complete
	now := time.Now().UTC()
	if err := s.store.SetStatus(ctx, id, models.StatusProcessed, &now); err != nil {
		log.WithError(err).Error("Failed to mark commit processed")
		outcome.Status = models.StatusPending
		outcome.Error = stepErr(StateComplete, KindStorage, input.CommitHash, input.RepositoryName, err).Error()
		return outcome
	}

	outcome.Status = models.StatusProcessed
	if degraded {
		outcome.Error = "analysis degraded"
	}
	log.WithFields(logrus.Fields{
		"commit_id": id,
		"risk_tier": outcome.RiskTier,
		"files":     len(files),
	}).Info("Commit ingested")
	return outcome
}

// buildRecords turns a normalized input into the storage shape,
// splitting the combined diff into per-file change rows.
func buildRecords(input models.CommitInput, fp string) (*models.Commit, []*models.FileChange) {
	commit := &models.Commit{
		CommitHash:     input.CommitHash,
		RepositoryName: input.RepositoryName,
		AuthorName:     input.AuthorName,
		AuthorEmail:    input.AuthorEmail,
		Message:        input.Message,
		CommitDate:     input.CommitDate,
		Source:         input.Origin,
		Branch:         input.Branch,
		ParentHashes:   input.ParentHashes,
		LinesAdded:     input.LinesAdded,
		LinesDeleted:   input.LinesDeleted,
		Metadata:       input.Metadata,
		DiffContent:    input.Diff,
		Fingerprint:    fp,
	}

	var files []*models.FileChange
	for _, seg := range diffparse.Split(input.Diff) {
		files = append(files, seg.FileChange(""))
	}

	// Prefer counts parsed from the diff when the origin supplied none.
	if commit.LinesAdded == 0 && commit.LinesDeleted == 0 {
		for _, f := range files {
			commit.LinesAdded += f.Additions
			commit.LinesDeleted += f.Deletions
		}
	}
	return commit, files
}

// storeWithRetry performs the atomic conditional insert, retrying
// transient storage failures with backoff up to the attempt budget.
func (s *Service) storeWithRetry(ctx context.Context, commit *models.Commit, files []*models.FileChange) (string, bool, error) {
	var lastErr error
	for attempt := 1; attempt <= s.storageAttempts; attempt++ {
		id, isNew, err := s.store.UpsertCommit(ctx, commit, files)
		if err == nil {
			return id, isNew, nil
		}
		lastErr = err
		if attempt < s.storageAttempts {
			s.logger.WithFields(logrus.Fields{
				"commit":  shortRef(commit.CommitHash),
				"attempt": attempt,
			}).WithError(err).Warn("Storage attempt failed, backing off")
			select {
			case <-time.After(s.storageBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return "", false, ctx.Err()
			}
		}
	}
	return "", false, fmt.Errorf("storage failed after %d attempts: %w", s.storageAttempts, lastErr)
}

// analyzeAndAttach runs the pattern analyzer and persists its result.
// A panic in a rule is contained here and surfaces as an analysis
// failure rather than killing the worker.
func (s *Service) analyzeAndAttach(ctx context.Context, commit *models.Commit, files []*models.FileChange) (result *models.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = stepErr(StateAnalyzed, KindAnalysis, commit.CommitHash, commit.RepositoryName,
				fmt.Errorf("analyzer panicked: %v", r))
		}
	}()

	result = s.analyzer.Analyze(commit, files)

	complexity := make(map[string]int, len(files))
	for _, f := range files {
		complexity[f.Path] = s.analyzer.FileComplexity(f)
	}
	if err := s.store.AttachAnalysis(ctx, commit.ID, result, complexity); err != nil {
		return nil, stepErr(StateAnalyzed, KindAnalysis, commit.CommitHash, commit.RepositoryName, err)
	}
	return result, nil
}

func (s *Service) enqueueRetry(commit *models.Commit, step retryq.Step, cause error) {
	if s.retry == nil {
		return
	}
	if err := s.retry.Enqueue(commit.ID, commit.RepositoryName, step, cause); err != nil {
		s.logger.WithError(err).Error("Failed to enqueue retry task")
	}
}

// markDegraded records that analysis did not run for a stored commit.
func markDegraded(version string) *models.AnalysisResult {
	return &models.AnalysisResult{RuleSetVersion: version, OverallRisk: models.RiskLow, Degraded: true}
}
