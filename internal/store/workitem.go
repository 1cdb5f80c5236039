package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/estimator"
)

// CreateWorkItem inserts a new WorkItem. Cycle prevention for parent/child
// relationships (Design Notes §9) is the caller's responsibility via
// SetParent below. IssueType defaults to the Estimator's keyword detection
// over title+description when the caller doesn't already supply one, so
// every WorkItem carries an issue type from the moment it exists (§4.1).
func (s *Store) CreateWorkItem(wi WorkItem) error {
	now := time.Now().UTC()
	wi.CreatedAt, wi.UpdatedAt = now, now
	if wi.Status == "" {
		wi.Status = StatusBacklog
	}
	if wi.Priority == 0 {
		wi.Priority = 3
	}
	if wi.IssueType == "" {
		wi.IssueType = string(estimator.DetectIssueType(wi.Title, wi.Description))
	}
	_, err := s.db.Exec(`
		INSERT INTO work_items (
			id, external_key, project_id, title, description, issue_type, status, priority, parent_id,
			estimated_hours, actual_hours, story_points, token_budget,
			code_host, code_repo, code_change_number, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		wi.ID, wi.ExternalKey, wi.ProjectID, wi.Title, wi.Description, wi.IssueType, wi.Status, wi.Priority, wi.ParentID,
		wi.EstimatedHours, wi.ActualHours, wi.StoryPoints, wi.TokenBudget,
		wi.CodeHost, wi.CodeRepo, wi.CodeChangeNumber, wi.CreatedAt, wi.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: creating work item: %w", err)
	}
	return nil
}

const workItemColumns = `id, external_key, project_id, title, description, issue_type, status, priority, parent_id,
	       estimated_hours, actual_hours, story_points, token_budget,
	       code_host, code_repo, code_change_number, created_at, updated_at, started_at, completed_at`

// GetWorkItem fetches a single WorkItem by id.
func (s *Store) GetWorkItem(id string) (*WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	return scanWorkItem(row)
}

// FindWorkItemByExternalKey looks up a WorkItem by its human-facing marker
// (e.g. "LIN-456"), used to resolve markers found in a review job's title
// and body (§4.3 step 5).
// Returns nil, nil if no WorkItem carries that key.
func (s *Store) FindWorkItemByExternalKey(key string) (*WorkItem, error) {
	row := s.db.QueryRow(`SELECT `+workItemColumns+` FROM work_items WHERE external_key = ?`, key)
	return scanWorkItem(row)
}

func scanWorkItem(row *sql.Row) (*WorkItem, error) {
	var wi WorkItem
	err := row.Scan(
		&wi.ID, &wi.ExternalKey, &wi.ProjectID, &wi.Title, &wi.Description, &wi.IssueType, &wi.Status, &wi.Priority, &wi.ParentID,
		&wi.EstimatedHours, &wi.ActualHours, &wi.StoryPoints, &wi.TokenBudget,
		&wi.CodeHost, &wi.CodeRepo, &wi.CodeChangeNumber, &wi.CreatedAt, &wi.UpdatedAt, &wi.StartedAt, &wi.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning work item: %w", err)
	}
	return &wi, nil
}

// UpdateWorkItemStatus transitions a WorkItem's status, stamping started_at
// on first entry into in-progress and completed_at when the new status is
// terminal (done or cancelled).
func (s *Store) UpdateWorkItemStatus(id string, status WorkItemStatus, at time.Time) error {
	var completedAt *time.Time
	if status == StatusDone || status == StatusCancelled {
		completedAt = &at
	}

	query := `UPDATE work_items SET status = ?, updated_at = ?, completed_at = ? WHERE id = ?`
	args := []any{status, at, completedAt, id}
	if status == StatusInProgress {
		query = `UPDATE work_items SET status = ?, updated_at = ?, completed_at = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`
		args = []any{status, at, completedAt, at, id}
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("store: updating work item status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: work item %s not found", id)
	}
	return nil
}

// SetCodeChangeLinkage links a WorkItem to the code change that closed it
// (§4.3 step 5).
func (s *Store) SetCodeChangeLinkage(id string, ref ChangeRef) error {
	_, err := s.db.Exec(
		`UPDATE work_items SET code_host = ?, code_repo = ?, code_change_number = ?, updated_at = ? WHERE id = ?`,
		ref.Host, ref.Repo, ref.ChangeNumber, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("store: linking code change: %w", err)
	}
	return nil
}

// SetParent assigns a WorkItem's parent after verifying the forest invariant:
// parent must not be a descendant of child (Design Notes §9).
func (s *Store) SetParent(childID, parentID string) error {
	if childID == parentID {
		return fmt.Errorf("store: work item cannot be its own parent")
	}
	isDescendant, err := s.isDescendant(parentID, childID)
	if err != nil {
		return err
	}
	if isDescendant {
		return fmt.Errorf("store: setting parent would create a cycle")
	}
	_, err = s.db.Exec(`UPDATE work_items SET parent_id = ?, updated_at = ? WHERE id = ?`, parentID, time.Now().UTC(), childID)
	if err != nil {
		return fmt.Errorf("store: setting parent: %w", err)
	}
	return nil
}

// isDescendant reports whether candidate is a descendant of root, by walking
// parent_id pointers upward from candidate.
func (s *Store) isDescendant(root, candidate string) (bool, error) {
	current := candidate
	for i := 0; i < 10000; i++ { // generous bound; the forest invariant keeps real chains short
		row := s.db.QueryRow(`SELECT parent_id FROM work_items WHERE id = ?`, current)
		var parentID sql.NullString
		if err := row.Scan(&parentID); err != nil {
			if err == sql.ErrNoRows {
				return false, nil
			}
			return false, fmt.Errorf("store: walking ancestry: %w", err)
		}
		if !parentID.Valid {
			return false, nil
		}
		if parentID.String == root {
			return true, nil
		}
		current = parentID.String
	}
	return false, fmt.Errorf("store: ancestry walk exceeded bound, possible existing cycle")
}

// SetEstimate persists the Estimator's output onto a WorkItem, including the
// issue type re-detected as part of that same Estimate call (§4.1, §4.6).
func (s *Store) SetEstimate(id string, storyPoints, tokenBudget int, estimatedHours float64, issueType string) error {
	_, err := s.db.Exec(
		`UPDATE work_items SET story_points = ?, token_budget = ?, estimated_hours = ?, issue_type = ?, updated_at = ? WHERE id = ?`,
		storyPoints, tokenBudget, estimatedHours, issueType, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("store: setting estimate: %w", err)
	}
	return nil
}

// SetActualHours records measured effort, typically derived from
// started_at/completed_at timestamps by the Executor (DESIGN.md Open
// Question decision).
func (s *Store) SetActualHours(id string, hours float64) error {
	_, err := s.db.Exec(`UPDATE work_items SET actual_hours = ?, updated_at = ? WHERE id = ?`, hours, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: setting actual hours: %w", err)
	}
	return nil
}
