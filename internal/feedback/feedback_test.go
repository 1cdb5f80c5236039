package feedback

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/48Nauts-Operator/lineary/internal/store"
)

type fakeStore struct {
	workItems map[string]*store.WorkItem
	insights  map[string][]store.ReviewInsight
	records   []store.FeedbackRecord
	queryResp []store.FeedbackRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workItems: map[string]*store.WorkItem{},
		insights:  map[string][]store.ReviewInsight{},
	}
}

func (f *fakeStore) GetWorkItem(id string) (*store.WorkItem, error) { return f.workItems[id], nil }

func (f *fakeStore) ReviewInsightsForWorkItem(workItemID string) ([]store.ReviewInsight, error) {
	return f.insights[workItemID], nil
}

func (f *fakeStore) AppendFeedbackRecord(fr store.FeedbackRecord) error {
	f.records = append(f.records, fr)
	return nil
}

func (f *fakeStore) QueryFeedback(q store.FeedbackQuery) ([]store.FeedbackRecord, error) {
	return f.queryResp, nil
}

func ptr(f float64) *float64 { return &f }

func TestAccuracyScore_Buckets(t *testing.T) {
	require.Equal(t, 100, AccuracyScore(ptr(10), ptr(10.5)))
	require.Equal(t, 90, AccuracyScore(ptr(10), ptr(11.5)))
	require.Equal(t, 80, AccuracyScore(ptr(10), ptr(12.5)))
	require.Equal(t, 60, AccuracyScore(ptr(10), ptr(14.5)))
	require.Equal(t, 40, AccuracyScore(ptr(10), ptr(17)))
	require.Equal(t, 20, AccuracyScore(ptr(10), ptr(30)))
	require.Equal(t, 0, AccuracyScore(nil, ptr(5)))
	require.Equal(t, 0, AccuracyScore(ptr(0), ptr(5)))
}

func TestLoop_RecordCompletion_PersistsRecordWithReviewAverage(t *testing.T) {
	fs := newFakeStore()
	fs.workItems["wi_1"] = &store.WorkItem{
		ID:             "wi_1",
		EstimatedHours: ptr(10),
		Priority:       2,
		StoryPoints:    intPtr(3),
		IssueType:      "bug",
	}
	sp1 := "wi_1"
	fs.insights["wi_1"] = []store.ReviewInsight{
		{WorkItemID: &sp1, QualityScore: 80, HasSecurityIssues: true},
		{WorkItemID: &sp1, QualityScore: 60},
	}

	loop := &Loop{Store: fs}
	err := loop.RecordCompletion("wi_1", 10.5)
	require.NoError(t, err)

	require.Len(t, fs.records, 1)
	rec := fs.records[0]
	require.Equal(t, 100, rec.AccuracyScore)
	require.NotNil(t, rec.ReviewQualityScore)
	require.Equal(t, 70, *rec.ReviewQualityScore)
	require.True(t, rec.HadSecurityIssues)
	require.Equal(t, 3, rec.Complexity)
	require.Equal(t, "bug", rec.IssueType)
}

func TestLoop_RecordCompletion_MissingWorkItem(t *testing.T) {
	fs := newFakeStore()
	loop := &Loop{Store: fs}
	err := loop.RecordCompletion("missing", 5)
	require.Error(t, err)
}

func TestLoop_ImprovedEstimate_NoHistoryFallsBackToComplexityHeuristic(t *testing.T) {
	fs := newFakeStore()
	loop := &Loop{Store: fs}

	complexity := 4
	est, err := loop.ImprovedEstimate(ImprovedEstimateQuery{ProjectID: "proj_1", Complexity: &complexity})
	require.NoError(t, err)
	require.Equal(t, 8.0, est.EstimateHours)
	require.Equal(t, ConfidenceLow, est.Confidence)
	require.Equal(t, 0, est.BasedOn)
}

func TestLoop_ImprovedEstimate_WeightedMeanAndConfidence(t *testing.T) {
	fs := newFakeStore()
	for i := 0; i < 10; i++ {
		fs.queryResp = append(fs.queryResp, store.FeedbackRecord{ActualHours: 8, AccuracyScore: 90})
	}
	loop := &Loop{Store: fs}

	est, err := loop.ImprovedEstimate(ImprovedEstimateQuery{ProjectID: "proj_1"})
	require.NoError(t, err)
	require.InDelta(t, 8.0, est.EstimateHours, 0.01)
	require.Equal(t, ConfidenceHigh, est.Confidence)
	require.Equal(t, 10, est.BasedOn)
	require.NotNil(t, est.HistoricalAccuracy)
	require.InDelta(t, 90.0, *est.HistoricalAccuracy, 0.01)
}

func TestLoop_ImprovedEstimate_LowAccuracyClampsWeightToFloor(t *testing.T) {
	fs := newFakeStore()
	fs.queryResp = []store.FeedbackRecord{
		{ActualHours: 20, AccuracyScore: 0},
		{ActualHours: 4, AccuracyScore: 100},
	}
	loop := &Loop{Store: fs}

	est, err := loop.ImprovedEstimate(ImprovedEstimateQuery{ProjectID: "proj_1"})
	require.NoError(t, err)
	// weight(0) clamps to floor 0.5, weight(100) = 1.0
	// mean = (0.5*20 + 1.0*4) / 1.5 = 9.333...
	require.InDelta(t, 9.3, est.EstimateHours, 0.01)
	require.Equal(t, ConfidenceLow, est.Confidence)
}

func intPtr(i int) *int { return &i }
