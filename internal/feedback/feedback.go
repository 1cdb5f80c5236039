// Package feedback implements the AI Feedback Loop (§4.6): it records
// estimated-vs-actual accuracy on task completion and serves improved
// estimates from weighted historical data.
package feedback

import (
	"fmt"
	"math"

	"github.com/48Nauts-Operator/lineary/internal/apperr"
	"github.com/48Nauts-Operator/lineary/internal/idgen"
	"github.com/48Nauts-Operator/lineary/internal/store"
)

// Store is the subset of *store.Store the Loop depends on.
type Store interface {
	GetWorkItem(id string) (*store.WorkItem, error)
	ReviewInsightsForWorkItem(workItemID string) ([]store.ReviewInsight, error)
	AppendFeedbackRecord(fr store.FeedbackRecord) error
	QueryFeedback(q store.FeedbackQuery) ([]store.FeedbackRecord, error)
}

// Confidence is the qualitative confidence tier on an ImprovedEstimate.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ImprovedEstimate is the result of improvedEstimate (§4.6).
type ImprovedEstimate struct {
	EstimateHours      float64
	Confidence         Confidence
	BasedOn            int
	HistoricalAccuracy *float64
}

const (
	historyLimit  = 20
	weightFloor   = 0.5
	complexityTol = 2
)

// Loop implements recordCompletion and improvedEstimate.
type Loop struct {
	Store        Store
	HistoryLimit int
	WeightFloor  float64
}

func (l *Loop) limit() int {
	if l.HistoryLimit > 0 {
		return l.HistoryLimit
	}
	return historyLimit
}

func (l *Loop) floor() float64 {
	if l.WeightFloor > 0 {
		return l.WeightFloor
	}
	return weightFloor
}

// RecordCompletion fetches the WorkItem's estimate, computes an accuracy
// score against actualHours, averages any linked review-quality scores, and
// appends an append-only FeedbackRecord (§4.6 step 1).
func (l *Loop) RecordCompletion(workItemID string, actualHours float64) error {
	wi, err := l.Store.GetWorkItem(workItemID)
	if err != nil {
		return fmt.Errorf("feedback: loading work item: %w", err)
	}
	if wi == nil {
		return apperr.New(apperr.Validation, "work item not found")
	}

	insights, err := l.Store.ReviewInsightsForWorkItem(workItemID)
	if err != nil {
		return fmt.Errorf("feedback: loading review insights: %w", err)
	}

	var estimatedHours float64
	if wi.EstimatedHours != nil {
		estimatedHours = *wi.EstimatedHours
	}

	accuracy := AccuracyScore(wi.EstimatedHours, &actualHours)

	var reviewQuality *int
	hadSecurity, hadPerformance := false, false
	if len(insights) > 0 {
		sum := 0
		for _, ri := range insights {
			sum += ri.QualityScore
			hadSecurity = hadSecurity || ri.HasSecurityIssues
			hadPerformance = hadPerformance || ri.HasPerformanceIssues
		}
		avg := sum / len(insights)
		reviewQuality = &avg
	}

	complexity := 0
	if wi.StoryPoints != nil {
		complexity = *wi.StoryPoints
	}

	record := store.FeedbackRecord{
		ID:                   idgen.New("fr"),
		WorkItemID:           workItemID,
		EstimatedHours:       estimatedHours,
		ActualHours:          actualHours,
		AccuracyScore:        accuracy,
		ReviewQualityScore:   reviewQuality,
		IssueType:            wi.IssueType,
		Priority:             wi.Priority,
		Complexity:           complexity,
		HadSecurityIssues:    hadSecurity,
		HadPerformanceIssues: hadPerformance,
		ReviewCount:          len(insights),
	}

	if err := l.Store.AppendFeedbackRecord(record); err != nil {
		return fmt.Errorf("feedback: appending record: %w", err)
	}
	return nil
}

// AccuracyScore buckets the percent difference between estimate and actual
// (§4.6): ≤10%→100, ≤20%→90, ≤30%→80, ≤50%→60, ≤75%→40, else 20. 0 if either
// value is missing or the estimate is zero.
func AccuracyScore(estimatedHours, actualHours *float64) int {
	if estimatedHours == nil || actualHours == nil || *estimatedHours == 0 {
		return 0
	}
	diff := math.Abs(*estimatedHours-*actualHours) / *estimatedHours * 100
	switch {
	case diff <= 10:
		return 100
	case diff <= 20:
		return 90
	case diff <= 30:
		return 80
	case diff <= 50:
		return 60
	case diff <= 75:
		return 40
	default:
		return 20
	}
}

// ImprovedEstimateQuery parameters for improvedEstimate (§4.6 step 2).
type ImprovedEstimateQuery struct {
	ProjectID  string
	IssueType  string // optional
	Complexity *int   // optional
}

// ImprovedEstimate selects up to the last HistoryLimit FeedbackRecords
// matching projectID and (if provided) issue-type and a complexity window of
// ±2, then returns an accuracy-weighted mean of actual_hours.
func (l *Loop) ImprovedEstimate(q ImprovedEstimateQuery) (ImprovedEstimate, error) {
	storeQuery := store.FeedbackQuery{
		ProjectID: q.ProjectID,
		IssueType: q.IssueType,
		Limit:     l.limit(),
	}
	if q.Complexity != nil {
		storeQuery.Complexity = *q.Complexity
		storeQuery.ComplexityTol = complexityTol
	}

	records, err := l.Store.QueryFeedback(storeQuery)
	if err != nil {
		return ImprovedEstimate{}, fmt.Errorf("feedback: querying feedback: %w", err)
	}

	if len(records) == 0 {
		complexity := 1
		if q.Complexity != nil {
			complexity = *q.Complexity
		}
		return ImprovedEstimate{
			EstimateHours: float64(complexity) * 2,
			Confidence:    ConfidenceLow,
			BasedOn:       0,
		}, nil
	}

	var weightedSum, weightTotal float64
	var accuracySum float64
	floor := l.floor()
	for _, r := range records {
		weight := float64(r.AccuracyScore) / 100
		if weight < floor {
			weight = floor
		}
		weightedSum += weight * r.ActualHours
		weightTotal += weight
		accuracySum += float64(r.AccuracyScore)
	}

	mean := weightedSum / weightTotal
	meanAccuracy := accuracySum / float64(len(records))
	n := len(records)

	confidence := ConfidenceLow
	switch {
	case n >= 10 && meanAccuracy >= 80:
		confidence = ConfidenceHigh
	case n >= 5 && meanAccuracy >= 70:
		confidence = ConfidenceMedium
	}

	return ImprovedEstimate{
		EstimateHours:      math.Round(mean*10) / 10,
		Confidence:         confidence,
		BasedOn:            n,
		HistoricalAccuracy: &meanAccuracy,
	}, nil
}
