// Package api exposes the HTTP surface described in spec §6: the
// Continuous Sprint Executor's lifecycle endpoints, the webhook ingestion
// endpoint, and the read-model endpoints for review metrics, learning
// insights, and improved estimates.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/apperr"
	"github.com/48Nauts-Operator/lineary/internal/executor"
	"github.com/48Nauts-Operator/lineary/internal/feedback"
	"github.com/48Nauts-Operator/lineary/internal/insights"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/webhook"
)

// Store is the subset of *store.Store the review-metrics endpoint depends on.
type Store interface {
	ReviewInsightsInRange(projectID string, from, to time.Time) ([]store.ReviewInsight, error)
}

// Server wires the Continuous Sprint Executor, Webhook Receivers, Learning
// Insights Aggregator, and AI Feedback Loop onto a single stdlib mux.
type Server struct {
	Executor *executor.Executor
	Webhooks map[string]*webhook.Receiver // keyed by {host} path segment
	Insights *insights.Aggregator
	Feedback *feedback.Loop
	Store    Store
	Logger   *slog.Logger
}

// Routes builds the stdlib ServeMux described in spec §6, using Go 1.22+
// method-and-pattern syntax in place of a third-party router (teacher
// convention carried forward).
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /continuous/sprint/{sprintId}/start", s.handleSprintStart)
	mux.HandleFunc("POST /continuous/sprint/{sprintId}/task/{taskId}/complete", s.handleTaskComplete)
	mux.HandleFunc("GET /continuous/sprint/{sprintId}/status", s.handleSprintStatus)
	mux.HandleFunc("POST /webhook/{host}", s.handleWebhook)
	mux.HandleFunc("GET /insights/{projectId}", s.handleReviewMetrics)
	mux.HandleFunc("GET /ai/learning/{projectId}", s.handleLearningInsights)
	mux.HandleFunc("POST /estimates/improved", s.handleImprovedEstimate)
	return mux
}

func (s *Server) handleSprintStart(w http.ResponseWriter, r *http.Request) {
	sprintID := r.PathValue("sprintId")
	packet, err := s.Executor.Start(sprintID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packet)
}

func (s *Server) handleTaskComplete(w http.ResponseWriter, r *http.Request) {
	sprintID := r.PathValue("sprintId")
	taskID := r.PathValue("taskId")
	directive, err := s.Executor.Complete(sprintID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, directive)
}

func (s *Server) handleSprintStatus(w http.ResponseWriter, r *http.Request) {
	sprintID := r.PathValue("sprintId")
	summary, err := s.Executor.Status(sprintID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	host := r.PathValue("host")
	receiver, ok := s.Webhooks[host]
	if !ok {
		writeError(w, apperr.New(apperr.Validation, "unknown code host"))
		return
	}
	receiver.ServeHTTP(w, r)
}

func (s *Server) handleReviewMetrics(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	window, err := parseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "parsing range", err))
		return
	}

	now := time.Now().UTC()
	reviews, err := s.Store.ReviewInsightsInRange(projectID, now.Add(-window), now)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Fatal, "loading review insights", err))
		return
	}

	writeJSON(w, http.StatusOK, summarizeReviews(reviews))
}

func (s *Server) handleLearningInsights(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("projectId")
	summary, err := s.Insights.Analyze(projectID, time.Now().UTC())
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Fatal, "aggregating insights", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type improvedEstimateRequest struct {
	ProjectID  string `json:"project_id"`
	IssueType  string `json:"issue_type,omitempty"`
	Complexity *int   `json:"complexity,omitempty"`
}

func (s *Server) handleImprovedEstimate(w http.ResponseWriter, r *http.Request) {
	var req improvedEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "decoding request body", err))
		return
	}
	if req.ProjectID == "" {
		writeError(w, apperr.New(apperr.Validation, "project_id is required"))
		return
	}

	estimate, err := s.Feedback.ImprovedEstimate(feedback.ImprovedEstimateQuery{
		ProjectID:  req.ProjectID,
		IssueType:  req.IssueType,
		Complexity: req.Complexity,
	})
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Fatal, "computing improved estimate", err))
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func parseRange(raw string) (time.Duration, error) {
	switch raw {
	case "", "7d":
		return 7 * 24 * time.Hour, nil
	case "30d":
		return 30 * 24 * time.Hour, nil
	case "90d":
		return 90 * 24 * time.Hour, nil
	default:
		return 0, apperr.New(apperr.Validation, "range must be one of 7d, 30d, 90d")
	}
}

type reviewMetrics struct {
	ReviewCount           int     `json:"review_count"`
	AverageQualityScore   float64 `json:"average_quality_score"`
	SecurityIssueCount    int     `json:"security_issue_count"`
	PerformanceIssueCount int     `json:"performance_issue_count"`
	BugCount              int     `json:"bug_count"`
	UnparseableCount      int     `json:"unparseable_count"`
}

func summarizeReviews(reviews []store.ReviewInsight) reviewMetrics {
	var m reviewMetrics
	var qualitySum int
	for _, ri := range reviews {
		m.ReviewCount++
		qualitySum += ri.QualityScore
		if ri.HasSecurityIssues {
			m.SecurityIssueCount++
		}
		if ri.HasPerformanceIssues {
			m.PerformanceIssueCount++
		}
		if ri.HasBugs {
			m.BugCount++
		}
		if ri.Unparseable {
			m.UnparseableCount++
		}
	}
	if m.ReviewCount > 0 {
		m.AverageQualityScore = float64(qualitySum) / float64(m.ReviewCount)
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an apperr.Kind to the status codes in spec §7: Validation
// and malformed-input errors surface as 4xx, never retried; Auth as 401;
// Conflict as 409; everything else as 5xx. Sensitive values are never
// echoed, since callers only ever pass apperr-wrapped messages here.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.Validation, apperr.ParseFailure:
		status = http.StatusBadRequest
	case apperr.Auth:
		status = http.StatusUnauthorized
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Transient:
		status = http.StatusBadGateway
	case apperr.Fatal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(apperr.KindOf(err)),
	})
}
