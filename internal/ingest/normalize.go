package ingest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/committrace/committrace/internal/models"
)

// NormalizeWebhook maps a push payload's commit array into the single
// normalized input shape. Invalid descriptors come back as rejections
// rather than aborting the whole push.
func NormalizeWebhook(payload *models.WebhookPayload) ([]models.CommitInput, []models.CommitOutcome) {
	repo := payload.Repository.FullName
	if repo == "" {
		repo = payload.Repository.Name
	}
	branch := branchFromRef(payload.Ref)

	var inputs []models.CommitInput
	var rejected []models.CommitOutcome
	for _, wc := range payload.Commits {
		input := models.CommitInput{
			Origin:         models.SourceWebhook,
			CommitHash:     wc.ID,
			RepositoryName: repo,
			AuthorName:     wc.Author.Name,
			AuthorEmail:    wc.Author.Email,
			Message:        wc.Message,
			CommitDate:     wc.Timestamp,
			Branch:         branch,
			ParentHashes:   wc.Parents,
			Diff:           webhookDiff(wc),
		}
		if wc.Stats != nil {
			input.LinesAdded = wc.Stats.Additions
			input.LinesDeleted = wc.Stats.Deletions
		}
		if payload.EventType != "" {
			input.Metadata = map[string]string{"event_type": payload.EventType}
		}
		if err := validate(&input); err != nil {
			rejected = append(rejected, models.CommitOutcome{
				CommitHash:     wc.ID,
				RepositoryName: repo,
				Status:         models.StatusFailed,
				Error:          err.Error(),
			})
			continue
		}
		inputs = append(inputs, input)
	}
	return inputs, rejected
}

// NormalizeLocal maps a local-scan descriptor into the normalized shape.
func NormalizeLocal(lc *models.LocalCommit) (models.CommitInput, error) {
	input := models.CommitInput{
		Origin:         models.SourceLocal,
		CommitHash:     lc.CommitHash,
		RepositoryName: repoNameFromPath(lc.RepositoryPath),
		AuthorName:     lc.AuthorName,
		AuthorEmail:    lc.AuthorEmail,
		Message:        lc.Message,
		CommitDate:     lc.CommitDate,
		Branch:         lc.Branch,
		ParentHashes:   lc.ParentHashes,
		LinesAdded:     lc.LinesAdded,
		LinesDeleted:   lc.LinesDeleted,
		Diff:           lc.Diff,
	}
	if err := validate(&input); err != nil {
		return models.CommitInput{}, err
	}
	return input, nil
}

// validate rejects descriptors the pipeline cannot ingest. Runs before
// fingerprinting; a validation failure is never retried.
func validate(input *models.CommitInput) error {
	if input.CommitHash == "" {
		return stepErr(StateReceived, KindValidation, "", input.RepositoryName,
			fmt.Errorf("commit hash is required"))
	}
	if input.RepositoryName == "" {
		return stepErr(StateReceived, KindValidation, input.CommitHash, "",
			fmt.Errorf("repository name is required"))
	}
	if input.AuthorEmail == "" && input.AuthorName == "" {
		return stepErr(StateReceived, KindValidation, input.CommitHash, input.RepositoryName,
			fmt.Errorf("commit author is required"))
	}
	if input.CommitDate.IsZero() {
		input.CommitDate = time.Now().UTC()
	}
	return nil
}

// webhookDiff prefers the combined diff, falling back to concatenated
// per-file diffs in path order so the fingerprint stays deterministic.
func webhookDiff(wc models.WebhookCommit) string {
	if wc.Diff != "" {
		return wc.Diff
	}
	if len(wc.FileDiffs) == 0 {
		return ""
	}
	paths := make([]string, 0, len(wc.FileDiffs))
	for path := range wc.FileDiffs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, path := range paths {
		b.WriteString(wc.FileDiffs[path])
		if !strings.HasSuffix(wc.FileDiffs[path], "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func branchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

func repoNameFromPath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(path))
}
