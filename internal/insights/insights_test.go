package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/48Nauts-Operator/lineary/internal/store"
)

type fakeStore struct {
	records []store.FeedbackRecord
}

func (f *fakeStore) FeedbackInRange(projectID string, from, to time.Time) ([]store.FeedbackRecord, error) {
	var out []store.FeedbackRecord
	for _, r := range f.records {
		if !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func qs(v int) *int { return &v }

func TestAggregator_Analyze_WeeklyTrendHasTwelveWeeks(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{records: []store.FeedbackRecord{
		{IssueType: "bug", AccuracyScore: 90, ReviewQualityScore: qs(80), CreatedAt: now.AddDate(0, 0, -1)},
		{IssueType: "bug", AccuracyScore: 70, ReviewQualityScore: qs(60), CreatedAt: now.AddDate(0, 0, -8)},
	}}
	agg := &Aggregator{Store: fs}

	summary, err := agg.Analyze("proj_1", now)
	require.NoError(t, err)
	require.Len(t, summary.WeeklyTrend, trendWeeks)

	last := summary.WeeklyTrend[len(summary.WeeklyTrend)-1]
	require.Equal(t, 1, last.RecordCount)
	require.InDelta(t, 90, last.AverageAccuracy, 0.01)
}

func TestAggregator_Analyze_IsImprovingComparesLastTwoWeeks(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{records: []store.FeedbackRecord{
		{IssueType: "bug", AccuracyScore: 90, CreatedAt: now.AddDate(0, 0, -1)},
		{IssueType: "bug", AccuracyScore: 50, CreatedAt: now.AddDate(0, 0, -8)},
	}}
	agg := &Aggregator{Store: fs}

	summary, err := agg.Analyze("proj_1", now)
	require.NoError(t, err)
	require.True(t, summary.IsImproving)
}

func TestAggregator_Analyze_NotImprovingWhenMissingData(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	agg := &Aggregator{Store: &fakeStore{}}

	summary, err := agg.Analyze("proj_1", now)
	require.NoError(t, err)
	require.False(t, summary.IsImproving)
}

func TestAggregator_Analyze_ByIssueTypeComputesMeanAbsoluteDeviation(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	fs := &fakeStore{records: []store.FeedbackRecord{
		{IssueType: "bug", EstimatedHours: 10, ActualHours: 12, AccuracyScore: 80, CreatedAt: now.AddDate(0, 0, -1)},
		{IssueType: "bug", EstimatedHours: 10, ActualHours: 8, AccuracyScore: 80, CreatedAt: now.AddDate(0, 0, -2)},
	}}
	agg := &Aggregator{Store: fs}

	summary, err := agg.Analyze("proj_1", now)
	require.NoError(t, err)
	require.Len(t, summary.ByIssueType, 1)
	require.Equal(t, "bug", summary.ByIssueType[0].IssueType)
	require.InDelta(t, 2.0, summary.ByIssueType[0].MeanAbsoluteDeviation, 0.01)
}

func TestAggregator_Analyze_InaccuracyPatternsRequireThreeOccurrencesAndLowAccuracy(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	var records []store.FeedbackRecord
	for i := 0; i < 3; i++ {
		records = append(records, store.FeedbackRecord{
			IssueType:         "security",
			HadSecurityIssues: true,
			AccuracyScore:     40,
			CreatedAt:         now.AddDate(0, 0, -(i + 1)),
		})
	}
	fs := &fakeStore{records: records}
	agg := &Aggregator{Store: fs}

	summary, err := agg.Analyze("proj_1", now)
	require.NoError(t, err)
	require.Len(t, summary.InaccuracyPatterns, 1)
	require.Equal(t, "security", summary.InaccuracyPatterns[0].IssueType)
	require.Equal(t, 3, summary.InaccuracyPatterns[0].Occurrences)
}
