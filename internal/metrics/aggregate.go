package metrics

import (
	"fmt"
	"time"

	"github.com/committrace/committrace/internal/models"
)

// Productivity score weights. Each term is individually capped so no
// single dimension can carry the score past its share, and the total
// saturates at 100.
const (
	maxCommitPoints    = 40
	pointsPerCommit    = 4
	maxLinePoints      = 40
	linesPerPoint      = 25
	maxDiversityPoints = 20
	pointsPerAuthor    = 7

	largeCommitThreshold = 300
	bugfixRatioThreshold = 0.5
	soloAuthorThreshold  = 10
)

// Aggregator computes read-only metrics projections over commit sets.
type Aggregator struct {
	keywords *KeywordTable
}

// New builds an aggregator. A nil table selects the embedded one.
func New(table *KeywordTable) *Aggregator {
	if table == nil {
		table = DefaultKeywords()
	}
	return &Aggregator{keywords: table}
}

// Classify exposes the keyword table's classification.
func (a *Aggregator) Classify(c *models.Commit) models.Category {
	return a.keywords.Classify(c.Message)
}

// Aggregate reduces a commit window into AggregateMetrics. The
// reduction is commutative and associative over commits, so partial
// aggregates from parallel workers can be combined in any order.
func (a *Aggregator) Aggregate(commits []*models.Commit) *models.AggregateMetrics {
	partial := a.Reduce(commits)
	return a.Finalize(partial)
}

// Partial is an intermediate aggregate safe to merge across workers.
type Partial struct {
	CommitCount    int
	LinesAdded     int
	LinesDeleted   int
	Authors        map[string]int
	CategoryCounts map[models.Category]int
}

// Reduce folds a slice of commits into a partial aggregate.
func (a *Aggregator) Reduce(commits []*models.Commit) Partial {
	p := Partial{
		Authors:        make(map[string]int),
		CategoryCounts: make(map[models.Category]int),
	}
	for _, c := range commits {
		p.CommitCount++
		p.LinesAdded += c.LinesAdded
		p.LinesDeleted += c.LinesDeleted
		p.Authors[c.AuthorEmail]++
		p.CategoryCounts[a.Classify(c)]++
	}
	return p
}

// Merge combines two partial aggregates. Merge(a, b) == Merge(b, a).
func Merge(x, y Partial) Partial {
	out := Partial{
		CommitCount:    x.CommitCount + y.CommitCount,
		LinesAdded:     x.LinesAdded + y.LinesAdded,
		LinesDeleted:   x.LinesDeleted + y.LinesDeleted,
		Authors:        make(map[string]int, len(x.Authors)+len(y.Authors)),
		CategoryCounts: make(map[models.Category]int, 4),
	}
	for k, v := range x.Authors {
		out.Authors[k] += v
	}
	for k, v := range y.Authors {
		out.Authors[k] += v
	}
	for k, v := range x.CategoryCounts {
		out.CategoryCounts[k] += v
	}
	for k, v := range y.CategoryCounts {
		out.CategoryCounts[k] += v
	}
	return out
}

// Finalize turns a partial aggregate into the user-facing projection.
func (a *Aggregator) Finalize(p Partial) *models.AggregateMetrics {
	m := &models.AggregateMetrics{
		CommitCount:       p.CommitCount,
		TotalLinesAdded:   p.LinesAdded,
		TotalLinesDeleted: p.LinesDeleted,
		NetChange:         p.LinesAdded - p.LinesDeleted,
		UniqueAuthors:     len(p.Authors),
		CategoryCounts:    p.CategoryCounts,
	}
	if p.CommitCount > 0 {
		m.AvgCommitSize = float64(p.LinesAdded+p.LinesDeleted) / float64(p.CommitCount)
	}
	m.ProductivityScore = productivityScore(p.CommitCount, p.LinesAdded+p.LinesDeleted, len(p.Authors))
	m.Recommendations = recommendations(m)
	return m
}

// productivityScore is monotonic non-decreasing in each input and
// saturates at 100.
func productivityScore(commits, totalLines, authors int) int {
	if commits == 0 {
		return 0
	}
	commitPoints := commits * pointsPerCommit
	if commitPoints > maxCommitPoints {
		commitPoints = maxCommitPoints
	}
	linePoints := totalLines / linesPerPoint
	if linePoints > maxLinePoints {
		linePoints = maxLinePoints
	}
	diversityPoints := authors * pointsPerAuthor
	if diversityPoints > maxDiversityPoints {
		diversityPoints = maxDiversityPoints
	}
	score := commitPoints + linePoints + diversityPoints
	if score > 100 {
		score = 100
	}
	return score
}

// recommendations derives advisory text from threshold rules over the
// aggregate. Advisory only, never control flow.
func recommendations(m *models.AggregateMetrics) []string {
	var recs []string
	if m.CommitCount == 0 {
		return nil
	}
	if m.AvgCommitSize > largeCommitThreshold {
		recs = append(recs, fmt.Sprintf("Average commit size is %.0f lines, consider smaller commits", m.AvgCommitSize))
	}
	if ratio := float64(m.CategoryCounts[models.CategoryBugfix]) / float64(m.CommitCount); ratio > bugfixRatioThreshold {
		recs = append(recs, "More than half of commits are bug fixes, consider investing in test coverage")
	}
	if m.UniqueAuthors == 1 && m.CommitCount >= soloAuthorThreshold {
		recs = append(recs, "All commits come from a single author, consider code review rotation")
	}
	return recs
}

// WindowStats summarizes recent activity for a repository from its
// commit list. now is injected so windows are testable.
func WindowStats(repository string, commits []*models.Commit, now time.Time) *models.WindowStats {
	stats := &models.WindowStats{RepositoryName: repository}
	if len(commits) == 0 {
		return stats
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := now.AddDate(0, 0, -7)
	monthStart := now.AddDate(0, -1, 0)

	authorCounts := make(map[string]int)
	branchCounts := make(map[string]int)
	var first, last time.Time

	for _, c := range commits {
		stats.TotalCommits++
		if !c.CommitDate.Before(dayStart) {
			stats.CommitsToday++
		}
		if !c.CommitDate.Before(weekStart) {
			stats.CommitsThisWeek++
		}
		if !c.CommitDate.Before(monthStart) {
			stats.CommitsThisMonth++
		}
		authorCounts[c.AuthorName]++
		if c.Branch != "" {
			branchCounts[c.Branch]++
		}
		if first.IsZero() || c.CommitDate.Before(first) {
			first = c.CommitDate
		}
		if c.CommitDate.After(last) {
			last = c.CommitDate
		}
	}

	stats.LastCommitDate = &last
	stats.MostActiveAuthor = maxKey(authorCounts)
	stats.MostActiveBranch = maxKey(branchCounts)

	days := last.Sub(first).Hours()/24 + 1
	if days < 1 {
		days = 1
	}
	stats.AvgCommitsPerDay = float64(stats.TotalCommits) / days
	return stats
}

// maxKey returns the key with the highest count, smallest key winning
// ties so the result is deterministic.
func maxKey(counts map[string]int) string {
	var best string
	bestN := -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
