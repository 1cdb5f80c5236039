package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EnqueueReviewJob inserts a pending ReviewJob (§4.2 step 3, §6 "durable
// queue as an append-only table with claimed_at/claimed_by").
func (s *Store) EnqueueReviewJob(job ReviewJob) error {
	job.EnqueuedAt = time.Now().UTC()
	if job.Status == "" {
		job.Status = "pending"
	}
	_, err := s.db.Exec(`
		INSERT INTO review_jobs (id, host, repo, change_number, head_commit, modifier, title, body, enqueued_at, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.ChangeRef.Host, job.ChangeRef.Repo, job.ChangeRef.ChangeNumber, job.ChangeRef.HeadCommit,
		job.Modifier, job.Title, job.Body, job.EnqueuedAt, job.Status,
	)
	if err != nil {
		return fmt.Errorf("store: enqueuing review job: %w", err)
	}
	return nil
}

// ClaimNextReviewJob atomically claims the oldest pending job for worker,
// following the teacher's claim-and-heartbeat idiom (no in-memory queue is
// permitted, §6).
func (s *Store) ClaimNextReviewJob(worker string) (*ReviewJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: beginning claim tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT id, host, repo, change_number, head_commit, modifier, title, body, enqueued_at, claimed_at, claimed_by, status
		FROM review_jobs WHERE status = 'pending' ORDER BY enqueued_at ASC LIMIT 1`)

	job, err := scanReviewJob(row)
	if err != nil || job == nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE review_jobs SET status = 'claimed', claimed_at = ?, claimed_by = ? WHERE id = ?`, now, worker, job.ID); err != nil {
		return nil, fmt.Errorf("store: claiming review job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: committing claim: %w", err)
	}
	job.Status = "claimed"
	job.ClaimedAt = &now
	job.ClaimedBy = &worker
	return job, nil
}

func scanReviewJob(row *sql.Row) (*ReviewJob, error) {
	var job ReviewJob
	err := row.Scan(
		&job.ID, &job.ChangeRef.Host, &job.ChangeRef.Repo, &job.ChangeRef.ChangeNumber, &job.ChangeRef.HeadCommit,
		&job.Modifier, &job.Title, &job.Body, &job.EnqueuedAt, &job.ClaimedAt, &job.ClaimedBy, &job.Status,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning review job: %w", err)
	}
	return &job, nil
}

// SetReviewJobStatus marks a job done or failed after processing.
func (s *Store) SetReviewJobStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE review_jobs SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: setting review job status: %w", err)
	}
	return nil
}

// ReleaseStuckReviewJobs requeues claimed jobs whose claim is older than
// olderThan, so unacked entries remain claimable after the claim-timeout
// elapses (§7 Fatal policy: "no silent data loss").
func (s *Store) ReleaseStuckReviewJobs(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.Exec(
		`UPDATE review_jobs SET status = 'pending', claimed_at = NULL, claimed_by = NULL
		 WHERE status = 'claimed' AND claimed_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("store: releasing stuck review jobs: %w", err)
	}
	return res.RowsAffected()
}

// AcquireReviewLock acquires (or refreshes, if already held by the same
// holder) the per-(host,repo,change_number,head_commit) lock required by
// §4.3's concurrency note, emulated over SQLite with a locks table since
// SQLite has no real row-level locking.
func (s *Store) AcquireReviewLock(key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("store: beginning lock tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT holder, expires_at FROM review_locks WHERE lock_key = ?`, key)
	var existingHolder string
	var existingExpiry time.Time
	err = row.Scan(&existingHolder, &existingExpiry)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.Exec(`INSERT INTO review_locks (lock_key, holder, expires_at) VALUES (?,?,?)`, key, holder, expiresAt); err != nil {
			return false, fmt.Errorf("store: inserting lock: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("store: reading lock: %w", err)
	case existingHolder == holder || now.After(existingExpiry):
		if _, err := tx.Exec(`UPDATE review_locks SET holder = ?, expires_at = ? WHERE lock_key = ?`, holder, expiresAt, key); err != nil {
			return false, fmt.Errorf("store: refreshing lock: %w", err)
		}
	default:
		return false, tx.Commit()
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: committing lock: %w", err)
	}
	return true, nil
}

// ReleaseReviewLock drops a held lock so the next worker may claim it
// immediately rather than waiting out the TTL.
func (s *Store) ReleaseReviewLock(key, holder string) error {
	_, err := s.db.Exec(`DELETE FROM review_locks WHERE lock_key = ? AND holder = ?`, key, holder)
	if err != nil {
		return fmt.Errorf("store: releasing lock: %w", err)
	}
	return nil
}

// IsDuplicateWithinWindow checks the webhook_suppressions table for an
// unexpired entry matching ref (§4.2 step 4, Design Notes §9: 5-minute
// dedup window).
func (s *Store) IsDuplicateWithinWindow(ref ChangeRef) (bool, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*) FROM webhook_suppressions
		WHERE host = ? AND repo = ? AND change_number = ? AND head_commit = ? AND expires_at > ?`,
		ref.Host, ref.Repo, ref.ChangeNumber, ref.HeadCommit, time.Now().UTC(),
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("store: checking suppression: %w", err)
	}
	return count > 0, nil
}

// RecordSuppression records that ref has been handled, so a replay within
// window is suppressed.
func (s *Store) RecordSuppression(ref ChangeRef, window time.Duration) error {
	expiresAt := time.Now().UTC().Add(window)
	_, err := s.db.Exec(`
		INSERT INTO webhook_suppressions (host, repo, change_number, head_commit, expires_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(host, repo, change_number, head_commit) DO UPDATE SET expires_at = excluded.expires_at`,
		ref.Host, ref.Repo, ref.ChangeNumber, ref.HeadCommit, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: recording suppression: %w", err)
	}
	return nil
}

// SweepExpiredSuppressions removes suppression rows past their window,
// run periodically by the cron job named in SPEC_FULL.md's DOMAIN STACK.
func (s *Store) SweepExpiredSuppressions() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM webhook_suppressions WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("store: sweeping suppressions: %w", err)
	}
	return res.RowsAffected()
}

// HasDeliveryBeenProcessed reports whether a webhook delivery id has already
// been handled to completion, for idempotent replay suppression (§8
// round-trip laws).
func (s *Store) HasDeliveryBeenProcessed(deliveryID string) (bool, error) {
	row := s.db.QueryRow(`SELECT COUNT(*) FROM webhook_deliveries WHERE delivery_id = ?`, deliveryID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("store: checking delivery: %w", err)
	}
	return count > 0, nil
}

// MarkDeliveryProcessed records a delivery id as handled. Callers must only
// call this after a successful (2xx) outcome.
func (s *Store) MarkDeliveryProcessed(deliveryID string) error {
	_, err := s.db.Exec(
		`INSERT INTO webhook_deliveries (delivery_id, processed_at) VALUES (?,?) ON CONFLICT(delivery_id) DO NOTHING`,
		deliveryID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: marking delivery processed: %w", err)
	}
	return nil
}

// CreateReviewInsight persists the LLM Review Worker's structured output
// (§4.3 step 6).
func (s *Store) CreateReviewInsight(ri ReviewInsight) error {
	suggestionsJSON, err := json.Marshal(ri.Suggestions)
	if err != nil {
		return fmt.Errorf("store: encoding suggestions: %w", err)
	}
	ri.CreatedAt = time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO review_insights (
			id, host, repo, change_number, head_commit, work_item_id, quality_score,
			has_security_issues, has_performance_issues, has_bugs, suggestions, raw_response, unparseable, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ri.ID, ri.ChangeRef.Host, ri.ChangeRef.Repo, ri.ChangeRef.ChangeNumber, ri.ChangeRef.HeadCommit,
		ri.WorkItemID, ri.QualityScore, ri.HasSecurityIssues, ri.HasPerformanceIssues, ri.HasBugs,
		string(suggestionsJSON), ri.RawResponse, ri.Unparseable, ri.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: creating review insight: %w", err)
	}
	return nil
}

// ReviewInsightsForWorkItem returns every ReviewInsight linked to a WorkItem,
// ordered oldest-first (§4.6 recordCompletion reads these).
func (s *Store) ReviewInsightsForWorkItem(workItemID string) ([]ReviewInsight, error) {
	rows, err := s.db.Query(`
		SELECT id, host, repo, change_number, head_commit, work_item_id, quality_score,
		       has_security_issues, has_performance_issues, has_bugs, suggestions, raw_response, unparseable, created_at
		FROM review_insights WHERE work_item_id = ? ORDER BY created_at ASC`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("store: querying review insights: %w", err)
	}
	defer rows.Close()

	var insights []ReviewInsight
	for rows.Next() {
		ri, err := scanReviewInsightRows(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, ri)
	}
	return insights, rows.Err()
}

// ReviewInsightsInRange returns every ReviewInsight linked (via WorkItem) to
// projectID and created within [from, to), for the "review metrics" endpoint
// (§6 `GET /insights/{projectId}`).
func (s *Store) ReviewInsightsInRange(projectID string, from, to time.Time) ([]ReviewInsight, error) {
	rows, err := s.db.Query(`
		SELECT ri.id, ri.host, ri.repo, ri.change_number, ri.head_commit, ri.work_item_id, ri.quality_score,
		       ri.has_security_issues, ri.has_performance_issues, ri.has_bugs, ri.suggestions, ri.raw_response,
		       ri.unparseable, ri.created_at
		FROM review_insights ri
		JOIN work_items wi ON wi.id = ri.work_item_id
		WHERE wi.project_id = ? AND ri.created_at >= ? AND ri.created_at < ?
		ORDER BY ri.created_at ASC`, projectID, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: querying review insights in range: %w", err)
	}
	defer rows.Close()

	var insights []ReviewInsight
	for rows.Next() {
		ri, err := scanReviewInsightRows(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, ri)
	}
	return insights, rows.Err()
}

func scanReviewInsightRows(rows *sql.Rows) (ReviewInsight, error) {
	var ri ReviewInsight
	var suggestionsJSON string
	if err := rows.Scan(
		&ri.ID, &ri.ChangeRef.Host, &ri.ChangeRef.Repo, &ri.ChangeRef.ChangeNumber, &ri.ChangeRef.HeadCommit,
		&ri.WorkItemID, &ri.QualityScore, &ri.HasSecurityIssues, &ri.HasPerformanceIssues, &ri.HasBugs,
		&suggestionsJSON, &ri.RawResponse, &ri.Unparseable, &ri.CreatedAt,
	); err != nil {
		return ri, fmt.Errorf("store: scanning review insight: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestionsJSON), &ri.Suggestions); err != nil {
		return ri, fmt.Errorf("store: decoding suggestions: %w", err)
	}
	return ri, nil
}
