package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/48Nauts-Operator/lineary/internal/executor"
	"github.com/48Nauts-Operator/lineary/internal/feedback"
	"github.com/48Nauts-Operator/lineary/internal/insights"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/webhook"
)

type fakeWebhookStore struct{}

func (f *fakeWebhookStore) IsDuplicateWithinWindow(ref store.ChangeRef) (bool, error) {
	return false, nil
}
func (f *fakeWebhookStore) RecordSuppression(ref store.ChangeRef, window time.Duration) error {
	return nil
}
func (f *fakeWebhookStore) EnqueueReviewJob(job store.ReviewJob) error { return nil }
func (f *fakeWebhookStore) HasDeliveryBeenProcessed(deliveryID string) (bool, error) {
	return false, nil
}
func (f *fakeWebhookStore) MarkDeliveryProcessed(deliveryID string) error { return nil }

type fakeExecStore struct {
	sprint    *store.Sprint
	taskOrder []string
	session   *store.SprintSession
	workItems map[string]*store.WorkItem
}

func (f *fakeExecStore) GetSprint(id string) (*store.Sprint, error) { return f.sprint, nil }
func (f *fakeExecStore) SprintTaskOrder(sprintID string) ([]string, error) {
	return f.taskOrder, nil
}
func (f *fakeExecStore) GetSprintSession(sprintID string) (*store.SprintSession, error) {
	return f.session, nil
}
func (f *fakeExecStore) CreateSprintSession(sess store.SprintSession) error {
	f.session = &sess
	return nil
}
func (f *fakeExecStore) SaveSprintSession(sess store.SprintSession) error {
	f.session = &sess
	return nil
}
func (f *fakeExecStore) GetWorkItem(id string) (*store.WorkItem, error) { return f.workItems[id], nil }
func (f *fakeExecStore) UpdateWorkItemStatus(id string, status store.WorkItemStatus, at time.Time) error {
	f.workItems[id].Status = status
	return nil
}
func (f *fakeExecStore) SetActualHours(id string, hours float64) error { return nil }

type fakeReviewStore struct {
	reviews []store.ReviewInsight
}

func (f *fakeReviewStore) ReviewInsightsInRange(projectID string, from, to time.Time) ([]store.ReviewInsight, error) {
	return f.reviews, nil
}

type fakeInsightsStore struct{}

func (f *fakeInsightsStore) FeedbackInRange(projectID string, from, to time.Time) ([]store.FeedbackRecord, error) {
	return nil, nil
}

type fakeFeedbackStore struct {
	queryResp []store.FeedbackRecord
}

func (f *fakeFeedbackStore) GetWorkItem(id string) (*store.WorkItem, error) { return nil, nil }
func (f *fakeFeedbackStore) ReviewInsightsForWorkItem(workItemID string) ([]store.ReviewInsight, error) {
	return nil, nil
}
func (f *fakeFeedbackStore) AppendFeedbackRecord(fr store.FeedbackRecord) error { return nil }
func (f *fakeFeedbackStore) QueryFeedback(q store.FeedbackQuery) ([]store.FeedbackRecord, error) {
	return f.queryResp, nil
}

func newTestServer() *Server {
	execStore := &fakeExecStore{
		sprint:    &store.Sprint{ID: "sprint_1", Name: "Sprint 1"},
		taskOrder: []string{"wi_1"},
		workItems: map[string]*store.WorkItem{"wi_1": {ID: "wi_1", Status: store.StatusTodo}},
	}
	ex := &executor.Executor{Store: execStore, CallbackURL: "/continuous/sprint/%s/task/%s/complete"}

	receiver := &webhook.Receiver{
		Host:         "github",
		Secrets:      map[string]string{"": "secret"},
		MaxBodyBytes: 1 << 20,
		Store:        &fakeWebhookStore{},
	}

	return &Server{
		Executor: ex,
		Webhooks: map[string]*webhook.Receiver{"github": receiver},
		Insights: &insights.Aggregator{Store: &fakeInsightsStore{}},
		Feedback: &feedback.Loop{Store: &fakeFeedbackStore{}},
		Store:    &fakeReviewStore{},
	}
}

func TestServer_SprintLifecycle(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/continuous/sprint/sprint_1/start", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var packet executor.InstructionPacket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &packet))
	require.Equal(t, 1, packet.TaskCount)

	req = httptest.NewRequest(http.MethodGet, "/continuous/sprint/sprint_1/status", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_TaskCompleteOutOfOrderReturns409(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/continuous/sprint/sprint_1/start", nil)
	mux.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodPost, "/continuous/sprint/sprint_1/task/wrong-id/complete", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ImprovedEstimate(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	body, _ := json.Marshal(improvedEstimateRequest{ProjectID: "proj_1"})
	req := httptest.NewRequest(http.MethodPost, "/estimates/improved", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var est feedback.ImprovedEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	require.Equal(t, feedback.ConfidenceLow, est.Confidence)
}

func TestServer_ImprovedEstimateRequiresProjectID(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	body, _ := json.Marshal(improvedEstimateRequest{})
	req := httptest.NewRequest(http.MethodPost, "/estimates/improved", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ReviewMetricsRejectsBadRange(t *testing.T) {
	srv := newTestServer()
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodGet, "/insights/proj_1?range=bogus", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_WebhookUnknownHostReturns400(t *testing.T) {
	srv := newTestServer()
	delete(srv.Webhooks, "github")
	mux := srv.Routes()

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
