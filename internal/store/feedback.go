package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendFeedbackRecord inserts a FeedbackRecord. The table is append-only
// (§3): a second call for the same WorkItem inserts a second row rather than
// overwriting (§8 idempotence laws).
func (s *Store) AppendFeedbackRecord(fr FeedbackRecord) error {
	fr.CreatedAt = time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO feedback_records (
			id, work_item_id, estimated_hours, actual_hours, accuracy_score, review_quality_score,
			issue_type, priority, complexity, had_security_issues, had_performance_issues, review_count, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		fr.ID, fr.WorkItemID, fr.EstimatedHours, fr.ActualHours, fr.AccuracyScore, fr.ReviewQualityScore,
		fr.IssueType, fr.Priority, fr.Complexity, fr.HadSecurityIssues, fr.HadPerformanceIssues, fr.ReviewCount, fr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: appending feedback record: %w", err)
	}
	return nil
}

// FeedbackQuery selects FeedbackRecords for the AI Feedback Loop's
// improvedEstimate (§4.6): by project (via a join through work_items), and
// optionally issue-type and a complexity tolerance.
type FeedbackQuery struct {
	ProjectID         string
	IssueType         string // "" = any
	Complexity        int    // 0 = no complexity filter
	ComplexityTol     int    // max |record.complexity - complexity|
	Limit             int
}

// QueryFeedback returns up to Limit FeedbackRecords matching q, most recent
// first, so callers can take the most recent N.
func (s *Store) QueryFeedback(q FeedbackQuery) ([]FeedbackRecord, error) {
	query := `
		SELECT fr.id, fr.work_item_id, fr.estimated_hours, fr.actual_hours, fr.accuracy_score, fr.review_quality_score,
		       fr.issue_type, fr.priority, fr.complexity, fr.had_security_issues, fr.had_performance_issues,
		       fr.review_count, fr.created_at
		FROM feedback_records fr
		JOIN work_items wi ON wi.id = fr.work_item_id
		WHERE wi.project_id = ?`
	args := []any{q.ProjectID}

	if q.IssueType != "" {
		query += ` AND fr.issue_type = ?`
		args = append(args, q.IssueType)
	}
	if q.Complexity > 0 {
		query += ` AND ABS(fr.complexity - ?) <= ?`
		args = append(args, q.Complexity, q.ComplexityTol)
	}
	query += ` ORDER BY fr.created_at DESC`
	if q.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying feedback: %w", err)
	}
	defer rows.Close()

	var records []FeedbackRecord
	for rows.Next() {
		fr, err := scanFeedbackRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, fr)
	}
	return records, rows.Err()
}

func scanFeedbackRows(rows *sql.Rows) (FeedbackRecord, error) {
	var fr FeedbackRecord
	if err := rows.Scan(
		&fr.ID, &fr.WorkItemID, &fr.EstimatedHours, &fr.ActualHours, &fr.AccuracyScore, &fr.ReviewQualityScore,
		&fr.IssueType, &fr.Priority, &fr.Complexity, &fr.HadSecurityIssues, &fr.HadPerformanceIssues,
		&fr.ReviewCount, &fr.CreatedAt,
	); err != nil {
		return fr, fmt.Errorf("store: scanning feedback record: %w", err)
	}
	return fr, nil
}

// FeedbackInRange returns every FeedbackRecord created within [from, to),
// for the Learning Insights Aggregator's weekly trend queries (§4.7).
func (s *Store) FeedbackInRange(projectID string, from, to time.Time) ([]FeedbackRecord, error) {
	rows, err := s.db.Query(`
		SELECT fr.id, fr.work_item_id, fr.estimated_hours, fr.actual_hours, fr.accuracy_score, fr.review_quality_score,
		       fr.issue_type, fr.priority, fr.complexity, fr.had_security_issues, fr.had_performance_issues,
		       fr.review_count, fr.created_at
		FROM feedback_records fr
		JOIN work_items wi ON wi.id = fr.work_item_id
		WHERE wi.project_id = ? AND fr.created_at >= ? AND fr.created_at < ?
		ORDER BY fr.created_at ASC`, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: querying feedback range: %w", err)
	}
	defer rows.Close()

	var records []FeedbackRecord
	for rows.Next() {
		fr, err := scanFeedbackRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, fr)
	}
	return records, rows.Err()
}
