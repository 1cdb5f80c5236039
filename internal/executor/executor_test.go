package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/48Nauts-Operator/lineary/internal/store"
)

type fakeStore struct {
	sprint      *store.Sprint
	taskOrder   []string
	session     *store.SprintSession
	workItems   map[string]*store.WorkItem
	actualHours map[string]float64
}

func newFakeStore(taskOrder []string) *fakeStore {
	wis := map[string]*store.WorkItem{}
	for _, id := range taskOrder {
		wis[id] = &store.WorkItem{ID: id, Status: store.StatusTodo}
	}
	return &fakeStore{
		sprint:      &store.Sprint{ID: "sprint_1", Name: "Sprint 1"},
		taskOrder:   taskOrder,
		workItems:   wis,
		actualHours: map[string]float64{},
	}
}

func (f *fakeStore) GetSprint(id string) (*store.Sprint, error) { return f.sprint, nil }

func (f *fakeStore) SprintTaskOrder(sprintID string) ([]string, error) { return f.taskOrder, nil }

func (f *fakeStore) GetSprintSession(sprintID string) (*store.SprintSession, error) {
	return f.session, nil
}

func (f *fakeStore) CreateSprintSession(sess store.SprintSession) error {
	if f.session != nil && f.session.Status != store.SessionCompleted {
		return errConflict
	}
	f.session = &sess
	return nil
}

func (f *fakeStore) SaveSprintSession(sess store.SprintSession) error {
	f.session = &sess
	return nil
}

func (f *fakeStore) GetWorkItem(id string) (*store.WorkItem, error) { return f.workItems[id], nil }

func (f *fakeStore) UpdateWorkItemStatus(id string, status store.WorkItemStatus, at time.Time) error {
	wi := f.workItems[id]
	wi.Status = status
	if status == store.StatusInProgress {
		wi.StartedAt = &at
	}
	if status == store.StatusDone {
		wi.CompletedAt = &at
	}
	return nil
}

func (f *fakeStore) SetActualHours(id string, hours float64) error {
	f.actualHours[id] = hours
	return nil
}

type errConflictType struct{}

func (errConflictType) Error() string { return "session already exists" }

var errConflict = errConflictType{}

type fakeFeedback struct {
	calls []string
}

func (f *fakeFeedback) RecordCompletion(workItemID string, actualHours float64) error {
	f.calls = append(f.calls, workItemID)
	return nil
}

func TestExecutor_StartCreatesActiveSession(t *testing.T) {
	fs := newFakeStore([]string{"wi_1", "wi_2"})
	ex := &Executor{Store: fs, CallbackURL: "/continuous/sprint/%s/task/%s/complete"}

	packet, err := ex.Start("sprint_1")
	require.NoError(t, err)
	require.Equal(t, 2, packet.TaskCount)
	require.Equal(t, []string{"wi_1", "wi_2"}, packet.TaskQueue)
	require.Equal(t, store.StatusInProgress, fs.workItems["wi_1"].Status)
}

func TestExecutor_StartRejectsDoubleStart(t *testing.T) {
	fs := newFakeStore([]string{"wi_1"})
	ex := &Executor{Store: fs, CallbackURL: "/complete"}

	_, err := ex.Start("sprint_1")
	require.NoError(t, err)

	_, err = ex.Start("sprint_1")
	require.Error(t, err)
}

func TestExecutor_CompleteAdvancesToNextTask(t *testing.T) {
	fs := newFakeStore([]string{"wi_1", "wi_2"})
	fb := &fakeFeedback{}
	ex := &Executor{Store: fs, Feedback: fb, CallbackURL: "/complete"}

	_, err := ex.Start("sprint_1")
	require.NoError(t, err)

	directive, err := ex.Complete("sprint_1", "wi_1")
	require.NoError(t, err)
	require.False(t, directive.Terminal)
	require.Equal(t, "wi_2", directive.NextTaskID)
	require.Equal(t, store.StatusDone, fs.workItems["wi_1"].Status)
	require.Len(t, fb.calls, 1)
}

func TestExecutor_CompleteRejectsOutOfOrder(t *testing.T) {
	fs := newFakeStore([]string{"wi_1", "wi_2"})
	ex := &Executor{Store: fs, CallbackURL: "/complete"}

	_, err := ex.Start("sprint_1")
	require.NoError(t, err)

	_, err = ex.Complete("sprint_1", "wi_2")
	require.Error(t, err, "completing a task other than the current one must be rejected")
}

func TestExecutor_CompleteLastTaskFinishesSession(t *testing.T) {
	fs := newFakeStore([]string{"wi_1"})
	ex := &Executor{Store: fs, CallbackURL: "/complete"}

	_, err := ex.Start("sprint_1")
	require.NoError(t, err)

	directive, err := ex.Complete("sprint_1", "wi_1")
	require.NoError(t, err)
	require.True(t, directive.Terminal)
	require.Equal(t, store.SessionCompleted, fs.session.Status)
	require.Nil(t, fs.session.CurrentID)
}

func TestExecutor_StatusReportsProgress(t *testing.T) {
	fs := newFakeStore([]string{"wi_1", "wi_2"})
	ex := &Executor{Store: fs, CallbackURL: "/complete"}

	_, err := ex.Start("sprint_1")
	require.NoError(t, err)
	_, err = ex.Complete("sprint_1", "wi_1")
	require.NoError(t, err)

	summary, err := ex.Status("sprint_1")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, 2, summary.Total)
	require.InDelta(t, 50.0, summary.PercentDone, 1e-9)
}

func TestExecutor_PauseAndResume(t *testing.T) {
	fs := newFakeStore([]string{"wi_1"})
	ex := &Executor{Store: fs, CallbackURL: "/complete"}

	_, err := ex.Start("sprint_1")
	require.NoError(t, err)

	require.NoError(t, ex.Pause("sprint_1"))
	require.Equal(t, store.SessionPaused, fs.session.Status)

	require.NoError(t, ex.Resume("sprint_1"))
	require.Equal(t, store.SessionActive, fs.session.Status)
}
