// Package webhook implements the Webhook Receiver (§4.2): it validates
// signed inbound payloads from a code host, normalizes them into a
// CodeChangeEvent, and enqueues review jobs.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/apperr"
	"github.com/48Nauts-Operator/lineary/internal/idgen"
	"github.com/48Nauts-Operator/lineary/internal/store"
)

const (
	headerEvent     = "X-Webhook-Event"
	headerSignature = "X-Webhook-Signature-256"
	headerDelivery  = "X-Webhook-Delivery"
)

// Store is the subset of *store.Store the Receiver depends on.
type Store interface {
	IsDuplicateWithinWindow(ref store.ChangeRef) (bool, error)
	RecordSuppression(ref store.ChangeRef, window time.Duration) error
	EnqueueReviewJob(job store.ReviewJob) error
	HasDeliveryBeenProcessed(deliveryID string) (bool, error)
	MarkDeliveryProcessed(deliveryID string) error
}

// Receiver handles inbound signed webhook requests for a single code host.
type Receiver struct {
	Host          string
	Secrets       map[string]string // installation id -> shared secret; "" key is the default secret
	MaxBodyBytes  int64
	DedupWindow   time.Duration
	MentionPrefix string
	Store         Store
	Logger        *slog.Logger
}

// statusRecorder wraps http.ResponseWriter to capture the status code for
// conditional post-processing (only mark deliveries processed on 2xx).
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ServeHTTP implements the full §4.2 arrival sequence.
func (rv *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	eventHeader := r.Header.Get(headerEvent)
	signatureHeader := r.Header.Get(headerSignature)
	deliveryID := r.Header.Get(headerDelivery)

	if eventHeader == "" || signatureHeader == "" {
		writeError(rec, apperr.New(apperr.Validation, "missing event-type or signature header"))
		return
	}

	maxBytes := rv.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(rec, apperr.Wrap(apperr.Validation, "reading request body", err))
		return
	}

	secret := rv.resolveSecret(r)
	if secret == "" || !verifySignature([]byte(secret), signatureHeader, body) {
		writeError(rec, apperr.New(apperr.Auth, "signature verification failed"))
		return
	}

	if deliveryID != "" {
		processed, err := rv.Store.HasDeliveryBeenProcessed(deliveryID)
		if err != nil {
			writeError(rec, apperr.Wrap(apperr.Fatal, "checking delivery idempotency", err))
			return
		}
		if processed {
			writeJSON(rec, http.StatusOK, map[string]string{"status": "already processed"})
			return
		}
	}

	rv.route(rec, eventHeader, body)

	if deliveryID != "" && rec.status >= 200 && rec.status < 300 {
		if err := rv.Store.MarkDeliveryProcessed(deliveryID); err != nil {
			rv.Logger.Warn("webhook: failed to mark delivery processed", "delivery_id", deliveryID, "error", err)
		}
	}
}

func (rv *Receiver) resolveSecret(r *http.Request) string {
	installation := r.URL.Query().Get("installation_id")
	if secret, ok := rv.Secrets[installation]; ok {
		return secret
	}
	return rv.Secrets[""]
}

func (rv *Receiver) route(w http.ResponseWriter, eventHeader string, body []byte) {
	switch classifyEvent(eventHeader) {
	case eventChange:
		rv.handleChange(w, body)
	case eventComment:
		rv.handleComment(w, body)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func classifyEvent(eventHeader string) eventKind {
	switch strings.ToLower(eventHeader) {
	case "pull_request", "merge_request", "change":
		return eventChange
	case "pull_request_review_comment", "issue_comment", "comment":
		return eventComment
	default:
		return eventOther
	}
}

func (rv *Receiver) handleChange(w http.ResponseWriter, body []byte) {
	var payload changePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "parsing change payload", err))
		return
	}

	if !changeActions[payload.Action] {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ref := store.ChangeRef{
		Host:         rv.Host,
		Repo:         payload.Repository.FullName,
		ChangeNumber: payload.PullRequest.Number,
		HeadCommit:   payload.PullRequest.Head.SHA,
	}

	rv.enqueue(w, ref, "", payload.PullRequest.Title, payload.PullRequest.Body)
}

func (rv *Receiver) handleComment(w http.ResponseWriter, body []byte) {
	var payload commentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, apperr.Wrap(apperr.Validation, "parsing comment payload", err))
		return
	}

	mention, ok := extractMention(payload.Comment.Body, rv.MentionPrefix)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ref := store.ChangeRef{
		Host:         rv.Host,
		Repo:         payload.Repository.FullName,
		ChangeNumber: payload.Issue.Number,
		HeadCommit:   "", // comments do not carry a head commit; the job is enqueued without one and the worker fetches files at that empty ref
	}

	rv.enqueue(w, ref, mention, "", payload.Comment.Body)
}

// extractMention looks for "<prefix> <modifier>" in a comment body and
// returns the modifier, defaulting to "" (meaning "default" review) when the
// prefix appears with no recognized modifier.
func extractMention(body, prefix string) (modifier string, found bool) {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(prefix))
	if idx == -1 {
		return "", false
	}
	rest := strings.TrimSpace(body[idx+len(prefix):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", true
	}
	switch strings.ToLower(fields[0]) {
	case "security", "performance", "explain":
		return strings.ToLower(fields[0]), true
	default:
		return "", true
	}
}

func (rv *Receiver) enqueue(w http.ResponseWriter, ref store.ChangeRef, modifier, title, body string) {
	dup, err := rv.Store.IsDuplicateWithinWindow(ref)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.Fatal, "checking duplicate suppression", err))
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, map[string]string{"status": "suppressed_duplicate"})
		return
	}

	job := store.ReviewJob{ID: idgen.New("job"), ChangeRef: ref, Modifier: modifier, Title: title, Body: body}
	if err := rv.Store.EnqueueReviewJob(job); err != nil {
		writeError(w, apperr.Wrap(apperr.Fatal, "enqueuing review job", err))
		return
	}

	window := rv.DedupWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	if err := rv.Store.RecordSuppression(ref, window); err != nil {
		rv.Logger.Warn("webhook: failed to record suppression", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "enqueued", "job_id": job.ID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err *apperr.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case apperr.Validation:
		status = http.StatusBadRequest
	case apperr.Auth:
		status = http.StatusUnauthorized
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.Transient, apperr.Fatal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]string{"error": err.Message, "kind": string(err.Kind)})
}
