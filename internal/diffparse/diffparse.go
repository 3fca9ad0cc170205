// Package diffparse splits combined unified-diff output into per-file
// segments so the store can persist one FileChange row per touched file.
package diffparse

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/committrace/committrace/internal/models"
)

// FileSegment is one file's slice of a combined diff.
type FileSegment struct {
	Path       string
	OldPath    string
	Kind       models.ChangeKind
	Additions  int
	Deletions  int
	Content    string
	SizeBefore int
	SizeAfter  int
}

// Split parses combined git diff output, using "diff --git" lines as file
// boundaries. Malformed fragments are kept as content under the current
// file rather than dropped; an empty diff yields no segments.
func Split(diff string) []FileSegment {
	var segments []FileSegment
	var current *FileSegment
	var body strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.Content = body.String()
		current.SizeBefore = current.Deletions
		current.SizeAfter = current.Additions
		segments = append(segments, *current)
		current = nil
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "diff --git") {
			flush()
			oldPath, newPath := parseGitHeader(line)
			current = &FileSegment{
				Path:    newPath,
				OldPath: oldPath,
				Kind:    models.ChangeModified,
			}
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}

		if current == nil {
			// Content before any file header; tolerate and skip.
			continue
		}

		body.WriteString(line)
		body.WriteByte('\n')

		switch {
		case strings.HasPrefix(line, "new file mode"):
			current.Kind = models.ChangeAdded
		case strings.HasPrefix(line, "deleted file mode"):
			current.Kind = models.ChangeDeleted
		case strings.HasPrefix(line, "rename from"):
			current.Kind = models.ChangeRenamed
		case strings.HasPrefix(line, "rename to"):
			current.Kind = models.ChangeRenamed
			current.Path = strings.TrimPrefix(line, "rename to ")
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			current.Additions++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			current.Deletions++
		}
	}
	flush()

	return segments
}

// parseGitHeader extracts old and new paths from a "diff --git a/x b/y" line.
func parseGitHeader(line string) (oldPath, newPath string) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return "", ""
	}
	oldPath = strings.TrimPrefix(fields[2], "a/")
	newPath = strings.TrimPrefix(fields[3], "b/")
	return oldPath, newPath
}

// FileChange converts a segment into a FileChange row for the given commit.
func (s FileSegment) FileChange(commitID string) *models.FileChange {
	return &models.FileChange{
		CommitID:        commitID,
		Filename:        filepath.Base(s.Path),
		Path:            s.Path,
		Extension:       strings.TrimPrefix(filepath.Ext(s.Path), "."),
		Kind:            s.Kind,
		Additions:       s.Additions,
		Deletions:       s.Deletions,
		DiffContent:     s.Content,
		SizeBefore:      s.SizeBefore,
		SizeAfter:       s.SizeAfter,
		Language:        DetectLanguage(s.Path),
		ComplexityScore: 0,
		RiskTier:        models.RiskLow,
	}
}
