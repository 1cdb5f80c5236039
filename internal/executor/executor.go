// Package executor implements the Continuous Sprint Executor (§4.4): it
// owns per-sprint sessions, a durable ordered task queue, and instruction
// generation for an external LLM agent.
package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/apperr"
	"github.com/48Nauts-Operator/lineary/internal/store"
)

// Store is the subset of *store.Store the Executor depends on.
type Store interface {
	GetSprint(id string) (*store.Sprint, error)
	SprintTaskOrder(sprintID string) ([]string, error)
	GetSprintSession(sprintID string) (*store.SprintSession, error)
	CreateSprintSession(sess store.SprintSession) error
	SaveSprintSession(sess store.SprintSession) error
	GetWorkItem(id string) (*store.WorkItem, error)
	UpdateWorkItemStatus(id string, status store.WorkItemStatus, at time.Time) error
	SetActualHours(id string, hours float64) error
}

// CompletionRecorder is notified when a task finishes, letting the AI
// Feedback Loop observe estimated-vs-actual outcomes (§2 data flow).
type CompletionRecorder interface {
	RecordCompletion(workItemID string, actualHours float64) error
}

// InstructionPacket is handed to an external LLM agent at sprint start
// (§4.4).
type InstructionPacket struct {
	SprintID           string
	SprintName         string
	TaskCount          int
	TaskQueue          []string
	CompletionCallback string
	Directive          string
}

// NextDirective is returned after each completed task.
type NextDirective struct {
	SprintID        string
	NextTaskID      string // empty when the session is complete
	Completed       int
	Total           int
	Terminal        bool
	ElapsedDuration time.Duration
	Directive       string
}

// SessionSummary is the read-only status view (§4.4's status operation).
type SessionSummary struct {
	SprintID    string
	Status      store.SessionStatus
	CurrentID   *string
	Completed   int
	Total       int
	PercentDone float64
}

// Executor drives SprintSessions, serializing concurrent calls per sprint
// with an in-process mutex cache (§5: authoritative state is always the
// store; the mutex map is a concurrency control, not a cache of state).
type Executor struct {
	Store       Store
	Feedback    CompletionRecorder
	CallbackURL string // template for the completion-callback address, e.g. "/continuous/sprint/%s/task/%s/complete"

	locks sync.Map // sprintID -> *sync.Mutex
}

func (e *Executor) lockFor(sprintID string) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(sprintID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Start begins a new session over sprint's current task list. It rejects a
// double-start when a non-completed session already exists (§8 invariant).
func (e *Executor) Start(sprintID string) (InstructionPacket, error) {
	lock := e.lockFor(sprintID)
	lock.Lock()
	defer lock.Unlock()

	sprint, err := e.Store.GetSprint(sprintID)
	if err != nil {
		return InstructionPacket{}, fmt.Errorf("executor: loading sprint: %w", err)
	}
	if sprint == nil {
		return InstructionPacket{}, apperr.New(apperr.Validation, "sprint not found")
	}

	taskOrder, err := e.Store.SprintTaskOrder(sprintID)
	if err != nil {
		return InstructionPacket{}, fmt.Errorf("executor: loading task order: %w", err)
	}
	if len(taskOrder) == 0 {
		return InstructionPacket{}, apperr.New(apperr.Validation, "sprint has no tasks to execute")
	}

	first := taskOrder[0]
	sess := store.SprintSession{
		SprintID:  sprintID,
		TaskQueue: taskOrder,
		Completed: []string{},
		CurrentID: &first,
		Status:    store.SessionActive,
		StartedAt: time.Now().UTC(),
	}
	if err := e.Store.CreateSprintSession(sess); err != nil {
		return InstructionPacket{}, apperr.Wrap(apperr.Conflict, "starting sprint session", err)
	}

	if err := e.Store.UpdateWorkItemStatus(first, store.StatusInProgress, time.Now().UTC()); err != nil {
		return InstructionPacket{}, fmt.Errorf("executor: marking first task in-progress: %w", err)
	}

	return InstructionPacket{
		SprintID:           sprintID,
		SprintName:         sprint.Name,
		TaskCount:          len(taskOrder),
		TaskQueue:          taskOrder,
		CompletionCallback: fmt.Sprintf(e.CallbackURL, sprintID, first),
		Directive:          buildStartDirective(sprint.Name, taskOrder),
	}, nil
}

// Complete advances the session past taskID. taskID must equal the session's
// current task or the call is rejected as out-of-order (§4.4).
func (e *Executor) Complete(sprintID, taskID string) (NextDirective, error) {
	lock := e.lockFor(sprintID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.Store.GetSprintSession(sprintID)
	if err != nil {
		return NextDirective{}, fmt.Errorf("executor: loading session: %w", err)
	}
	if sess == nil || sess.Status != store.SessionActive {
		return NextDirective{}, apperr.New(apperr.Validation, "no active session for sprint")
	}
	if sess.CurrentID == nil || *sess.CurrentID != taskID {
		return NextDirective{}, apperr.New(apperr.Conflict, "task completion is out of order")
	}

	now := time.Now().UTC()
	if err := e.Store.UpdateWorkItemStatus(taskID, store.StatusDone, now); err != nil {
		return NextDirective{}, fmt.Errorf("executor: marking task done: %w", err)
	}

	if err := e.recordActualHours(taskID, now); err != nil {
		return NextDirective{}, err
	}

	sess.Completed = append(sess.Completed, taskID)

	idx := indexOf(sess.TaskQueue, taskID)
	var nextID string
	if idx >= 0 && idx+1 < len(sess.TaskQueue) {
		nextID = sess.TaskQueue[idx+1]
	}

	terminal := nextID == ""
	if terminal {
		sess.CurrentID = nil
		sess.Status = store.SessionCompleted
		completedAt := now
		sess.CompletedAt = &completedAt
	} else {
		sess.CurrentID = &nextID
		if err := e.Store.UpdateWorkItemStatus(nextID, store.StatusInProgress, now); err != nil {
			return NextDirective{}, fmt.Errorf("executor: marking next task in-progress: %w", err)
		}
	}

	if err := e.Store.SaveSprintSession(*sess); err != nil {
		return NextDirective{}, fmt.Errorf("executor: persisting session: %w", err)
	}

	directive := NextDirective{
		SprintID:   sprintID,
		NextTaskID: nextID,
		Completed:  len(sess.Completed),
		Total:      len(sess.TaskQueue),
		Terminal:   terminal,
	}
	if terminal {
		directive.ElapsedDuration = now.Sub(sess.StartedAt)
		directive.Directive = buildTerminalDirective(len(sess.Completed), len(sess.TaskQueue), directive.ElapsedDuration)
	} else {
		directive.Directive = buildContinuationDirective(nextID, len(sess.Completed), len(sess.TaskQueue))
	}
	return directive, nil
}

// recordActualHours derives elapsed engineering time from the WorkItem's
// started_at/completed_at pair and both persists it on the item and notifies
// the AI Feedback Loop (DESIGN.md Open Question decision: actual_hours is
// always inferred from timestamps, never a caller-supplied payload).
func (e *Executor) recordActualHours(taskID string, completedAt time.Time) error {
	wi, err := e.Store.GetWorkItem(taskID)
	if err != nil {
		return fmt.Errorf("executor: loading completed work item: %w", err)
	}
	if wi == nil || wi.StartedAt == nil {
		return nil
	}
	hours := completedAt.Sub(*wi.StartedAt).Hours()
	if err := e.Store.SetActualHours(taskID, hours); err != nil {
		return fmt.Errorf("executor: setting actual hours: %w", err)
	}
	if e.Feedback != nil {
		if err := e.Feedback.RecordCompletion(taskID, hours); err != nil {
			return fmt.Errorf("executor: recording feedback: %w", err)
		}
	}
	return nil
}

// Status returns the current session's progress view.
func (e *Executor) Status(sprintID string) (SessionSummary, error) {
	sess, err := e.Store.GetSprintSession(sprintID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("executor: loading session: %w", err)
	}
	if sess == nil {
		return SessionSummary{}, apperr.New(apperr.Validation, "no session for sprint")
	}

	total := len(sess.TaskQueue)
	completed := len(sess.Completed)
	percent := 0.0
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}

	return SessionSummary{
		SprintID:    sprintID,
		Status:      sess.Status,
		CurrentID:   sess.CurrentID,
		Completed:   completed,
		Total:       total,
		PercentDone: percent,
	}, nil
}

// Pause transitions an active session to paused without advancing the
// current pointer (§4.4 state table).
func (e *Executor) Pause(sprintID string) error {
	lock := e.lockFor(sprintID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.Store.GetSprintSession(sprintID)
	if err != nil {
		return fmt.Errorf("executor: loading session: %w", err)
	}
	if sess == nil || sess.Status != store.SessionActive {
		return apperr.New(apperr.Validation, "no active session to pause")
	}
	sess.Status = store.SessionPaused
	return e.Store.SaveSprintSession(*sess)
}

// Resume transitions a paused session back to active, leaving the current
// pointer unchanged.
func (e *Executor) Resume(sprintID string) error {
	lock := e.lockFor(sprintID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.Store.GetSprintSession(sprintID)
	if err != nil {
		return fmt.Errorf("executor: loading session: %w", err)
	}
	if sess == nil || sess.Status != store.SessionPaused {
		return apperr.New(apperr.Validation, "no paused session to resume")
	}
	sess.Status = store.SessionActive
	return e.Store.SaveSprintSession(*sess)
}

func indexOf(ids []string, target string) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}
