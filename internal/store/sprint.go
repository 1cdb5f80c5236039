package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateSprint inserts a new Sprint with its ordered WorkItem list.
func (s *Store) CreateSprint(sp Sprint, orderedWorkItemIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning sprint create tx: %w", err)
	}
	defer tx.Rollback()

	if sp.Status == "" {
		sp.Status = SprintPlanning
	}
	if _, err := tx.Exec(
		`INSERT INTO sprints (id, project_id, name, starts_at, ends_at, status) VALUES (?,?,?,?,?,?)`,
		sp.ID, sp.ProjectID, sp.Name, sp.StartsAt, sp.EndsAt, sp.Status,
	); err != nil {
		return fmt.Errorf("store: creating sprint: %w", err)
	}

	for i, workItemID := range orderedWorkItemIDs {
		if _, err := tx.Exec(
			`INSERT INTO sprint_items (sprint_id, work_item_id, position) VALUES (?,?,?)`,
			sp.ID, workItemID, i,
		); err != nil {
			return fmt.Errorf("store: linking sprint item: %w", err)
		}
	}

	return tx.Commit()
}

// GetSprint fetches a Sprint by id.
func (s *Store) GetSprint(id string) (*Sprint, error) {
	row := s.db.QueryRow(`SELECT id, project_id, name, starts_at, ends_at, status FROM sprints WHERE id = ?`, id)
	var sp Sprint
	if err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.StartsAt, &sp.EndsAt, &sp.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scanning sprint: %w", err)
	}
	return &sp, nil
}

// SprintTaskOrder returns the ordered WorkItem ids currently assigned to a
// Sprint. Task order is immutable after session creation (§3), so callers
// should only read this before start() freezes a queue.
func (s *Store) SprintTaskOrder(sprintID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT work_item_id FROM sprint_items WHERE sprint_id = ? ORDER BY position ASC`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("store: reading sprint task order: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning sprint item: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetSprintStatus transitions a Sprint's lifecycle status.
func (s *Store) SetSprintStatus(id string, status SprintStatus) error {
	_, err := s.db.Exec(`UPDATE sprints SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("store: setting sprint status: %w", err)
	}
	return nil
}

// GetSprintSession fetches the SprintSession for a sprint, or nil if none
// has ever been created. This is the authoritative source of truth (§5);
// any in-process cache above it is read-through/write-through only.
func (s *Store) GetSprintSession(sprintID string) (*SprintSession, error) {
	row := s.db.QueryRow(`
		SELECT sprint_id, task_queue, completed, current_id, status, started_at, completed_at
		FROM sprint_sessions WHERE sprint_id = ?`, sprintID)

	var sess SprintSession
	var taskQueueJSON, completedJSON string
	if err := row.Scan(&sess.SprintID, &taskQueueJSON, &completedJSON, &sess.CurrentID, &sess.Status, &sess.StartedAt, &sess.CompletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scanning sprint session: %w", err)
	}
	if err := json.Unmarshal([]byte(taskQueueJSON), &sess.TaskQueue); err != nil {
		return nil, fmt.Errorf("store: decoding task queue: %w", err)
	}
	if err := json.Unmarshal([]byte(completedJSON), &sess.Completed); err != nil {
		return nil, fmt.Errorf("store: decoding completed list: %w", err)
	}
	return &sess, nil
}

// CreateSprintSession persists a freshly-started SprintSession. Fails if a
// non-completed session row already exists for this sprint (invariant 6, §8:
// a second start on the same sprint without an intervening completion must
// fail); a completed session row is replaced by the new one.
func (s *Store) CreateSprintSession(sess SprintSession) error {
	taskQueueJSON, err := json.Marshal(sess.TaskQueue)
	if err != nil {
		return fmt.Errorf("store: encoding task queue: %w", err)
	}
	completedJSON, err := json.Marshal(sess.Completed)
	if err != nil {
		return fmt.Errorf("store: encoding completed list: %w", err)
	}

	existing, err := s.GetSprintSession(sess.SprintID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != SessionCompleted {
		return fmt.Errorf("store: sprint %s already has a non-completed session", sess.SprintID)
	}

	_, err = s.db.Exec(`
		INSERT INTO sprint_sessions (sprint_id, task_queue, completed, current_id, status, started_at, completed_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(sprint_id) DO UPDATE SET
			task_queue = excluded.task_queue,
			completed = excluded.completed,
			current_id = excluded.current_id,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		sess.SprintID, string(taskQueueJSON), string(completedJSON), sess.CurrentID, sess.Status, sess.StartedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("store: creating sprint session: %w", err)
	}
	return nil
}

// SaveSprintSession persists a SprintSession's full state. All transitions
// must be persisted before a response is returned to the caller (§4.4
// Durability).
func (s *Store) SaveSprintSession(sess SprintSession) error {
	taskQueueJSON, err := json.Marshal(sess.TaskQueue)
	if err != nil {
		return fmt.Errorf("store: encoding task queue: %w", err)
	}
	completedJSON, err := json.Marshal(sess.Completed)
	if err != nil {
		return fmt.Errorf("store: encoding completed list: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE sprint_sessions SET
			task_queue = ?, completed = ?, current_id = ?, status = ?, started_at = ?, completed_at = ?
		WHERE sprint_id = ?`,
		string(taskQueueJSON), string(completedJSON), sess.CurrentID, sess.Status, sess.StartedAt, sess.CompletedAt, sess.SprintID,
	)
	if err != nil {
		return fmt.Errorf("store: saving sprint session: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: sprint session %s not found", sess.SprintID)
	}
	return nil
}

// MarkWorkItemStarted below, with UpdateWorkItemStatus's started_at and
// completed_at stamps, backs the Open Question decision to derive
// actual_hours from timestamps rather than accept a caller-supplied value
// (DESIGN.md).

// MarkWorkItemStarted stamps a WorkItem's transition into in-progress, used
// to compute elapsed duration for actual-hours derivation.
func (s *Store) MarkWorkItemStarted(id string, at time.Time) error {
	return s.UpdateWorkItemStatus(id, StatusInProgress, at)
}
