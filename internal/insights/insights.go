// Package insights implements the Learning Insights Aggregator (§4.7): a
// read-only set of queries over the Feedback Store producing trend, category,
// and pattern views.
package insights

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/store"
)

const (
	trendWeeks           = 12
	patternMinOccurrence = 3
	patternMaxAccuracy   = 60
)

// Store is the subset of *store.Store the Aggregator depends on.
type Store interface {
	FeedbackInRange(projectID string, from, to time.Time) ([]store.FeedbackRecord, error)
}

// WeekPoint is one week's worth of aggregated accuracy/quality.
type WeekPoint struct {
	WeekStart      time.Time
	AverageAccuracy float64
	AverageQuality  *float64
	RecordCount     int
}

// IssueTypeStat is the per-issue-type accuracy breakdown.
type IssueTypeStat struct {
	IssueType       string
	AverageAccuracy float64
	MeanAbsoluteDeviation float64
	RecordCount     int
}

// InaccuracyPattern flags a recurring low-accuracy combination (§4.7).
type InaccuracyPattern struct {
	IssueType         string
	HadSecurityIssues bool
	Occurrences       int
	MeanAccuracy      float64
}

// Summary is the full aggregated view returned by Analyze.
type Summary struct {
	WeeklyTrend        []WeekPoint
	ByIssueType        []IssueTypeStat
	InaccuracyPatterns []InaccuracyPattern
	IsImproving        bool
}

// Aggregator computes Summary over a project's feedback history.
type Aggregator struct {
	Store Store
}

// Analyze runs every read-model query in §4.7 for projectID, anchored at now.
func (a *Aggregator) Analyze(projectID string, now time.Time) (Summary, error) {
	windowStart := weekStart(now).AddDate(0, 0, -7*(trendWeeks-1))
	records, err := a.Store.FeedbackInRange(projectID, windowStart, now)
	if err != nil {
		return Summary{}, fmt.Errorf("insights: loading feedback: %w", err)
	}

	trend := weeklyTrend(records, now)
	byIssue := byIssueType(records)
	patterns := inaccuracyPatterns(records)

	return Summary{
		WeeklyTrend:        trend,
		ByIssueType:        byIssue,
		InaccuracyPatterns: patterns,
		IsImproving:        isImproving(trend),
	}, nil
}

func weekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := int(t.Weekday())
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
}

func weeklyTrend(records []store.FeedbackRecord, now time.Time) []WeekPoint {
	type bucket struct {
		accuracySum float64
		qualitySum  float64
		qualityN    int
		count       int
	}
	buckets := map[time.Time]*bucket{}

	anchor := weekStart(now)
	var weeks []time.Time
	for i := trendWeeks - 1; i >= 0; i-- {
		w := anchor.AddDate(0, 0, -7*i)
		weeks = append(weeks, w)
		buckets[w] = &bucket{}
	}

	for _, r := range records {
		w := weekStart(r.CreatedAt)
		b, ok := buckets[w]
		if !ok {
			continue
		}
		b.accuracySum += float64(r.AccuracyScore)
		b.count++
		if r.ReviewQualityScore != nil {
			b.qualitySum += float64(*r.ReviewQualityScore)
			b.qualityN++
		}
	}

	points := make([]WeekPoint, 0, len(weeks))
	for _, w := range weeks {
		b := buckets[w]
		p := WeekPoint{WeekStart: w, RecordCount: b.count}
		if b.count > 0 {
			p.AverageAccuracy = b.accuracySum / float64(b.count)
		}
		if b.qualityN > 0 {
			avg := b.qualitySum / float64(b.qualityN)
			p.AverageQuality = &avg
		}
		points = append(points, p)
	}
	return points
}

func byIssueType(records []store.FeedbackRecord) []IssueTypeStat {
	type agg struct {
		accuracySum float64
		diffs       []float64
		count       int
	}
	groups := map[string]*agg{}
	for _, r := range records {
		key := r.IssueType
		g, ok := groups[key]
		if !ok {
			g = &agg{}
			groups[key] = g
		}
		g.accuracySum += float64(r.AccuracyScore)
		g.diffs = append(g.diffs, r.EstimatedHours-r.ActualHours)
		g.count++
	}

	stats := make([]IssueTypeStat, 0, len(groups))
	for issueType, g := range groups {
		var madSum float64
		for _, d := range g.diffs {
			madSum += math.Abs(d)
		}
		stats = append(stats, IssueTypeStat{
			IssueType:             issueType,
			AverageAccuracy:       g.accuracySum / float64(g.count),
			MeanAbsoluteDeviation: madSum / float64(len(g.diffs)),
			RecordCount:           g.count,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].IssueType < stats[j].IssueType })
	return stats
}

func inaccuracyPatterns(records []store.FeedbackRecord) []InaccuracyPattern {
	type key struct {
		issueType   string
		hadSecurity bool
	}
	type agg struct {
		accuracySum float64
		count       int
	}
	groups := map[key]*agg{}
	for _, r := range records {
		k := key{issueType: r.IssueType, hadSecurity: r.HadSecurityIssues}
		g, ok := groups[k]
		if !ok {
			g = &agg{}
			groups[k] = g
		}
		g.accuracySum += float64(r.AccuracyScore)
		g.count++
	}

	var patterns []InaccuracyPattern
	for k, g := range groups {
		meanAccuracy := g.accuracySum / float64(g.count)
		if g.count >= patternMinOccurrence && meanAccuracy < patternMaxAccuracy {
			patterns = append(patterns, InaccuracyPattern{
				IssueType:         k.issueType,
				HadSecurityIssues: k.hadSecurity,
				Occurrences:       g.count,
				MeanAccuracy:      meanAccuracy,
			})
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].IssueType < patterns[j].IssueType
	})
	return patterns
}

// isImproving is true iff the latest week's average accuracy exceeds the
// previous week's (§4.7). Both weeks must have at least one record.
func isImproving(trend []WeekPoint) bool {
	if len(trend) < 2 {
		return false
	}
	latest := trend[len(trend)-1]
	previous := trend[len(trend)-2]
	if latest.RecordCount == 0 || previous.RecordCount == 0 {
		return false
	}
	return latest.AverageAccuracy > previous.AverageAccuracy
}
