package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/48Nauts-Operator/lineary/internal/store"
)

const testSecret = "shhh-its-a-secret"

func sign(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// fakeStore is an in-memory stand-in for *store.Store, exercising the same
// Store interface the Receiver depends on.
type fakeStore struct {
	mu            sync.Mutex
	suppressed    map[string]time.Time
	jobs          []store.ReviewJob
	processed     map[string]bool
	enqueueErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{suppressed: map[string]time.Time{}, processed: map[string]bool{}}
}

func suppressionKey(ref store.ChangeRef) string {
	return fmt.Sprintf("%s:%s:%d:%s", ref.Host, ref.Repo, ref.ChangeNumber, ref.HeadCommit)
}

func (f *fakeStore) IsDuplicateWithinWindow(ref store.ChangeRef) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	expiry, ok := f.suppressed[suppressionKey(ref)]
	return ok && time.Now().Before(expiry), nil
}

func (f *fakeStore) RecordSuppression(ref store.ChangeRef, window time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suppressed[suppressionKey(ref)] = time.Now().Add(window)
	return nil
}

func (f *fakeStore) EnqueueReviewJob(job store.ReviewJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeStore) HasDeliveryBeenProcessed(deliveryID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[deliveryID], nil
}

func (f *fakeStore) MarkDeliveryProcessed(deliveryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed[deliveryID] = true
	return nil
}

func newTestReceiver(fs *fakeStore) *Receiver {
	return &Receiver{
		Host:          "github",
		Secrets:       map[string]string{"": testSecret},
		MaxBodyBytes:  1 << 20,
		DedupWindow:   5 * time.Minute,
		MentionPrefix: "@lineary",
		Store:         fs,
		Logger:        slog.Default(),
	}
}

func changeBody(t *testing.T, action string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"action": action,
		"pull_request": map[string]any{
			"number": 42,
			"title":  "Fix the thing",
			"body":   "Fixes #1",
			"head":   map[string]any{"sha": "deadbeef"},
		},
		"repository": map[string]any{"full_name": "acme/widgets"},
	})
	require.NoError(t, err)
	return body
}

func TestReceiver_RejectsMissingHeaders(t *testing.T) {
	fs := newFakeStore()
	rv := newTestReceiver(fs)

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", nil)
	w := httptest.NewRecorder()
	rv.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	fs := newFakeStore()
	rv := newTestReceiver(fs)

	body := changeBody(t, "opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytesReader(body))
	req.Header.Set(headerEvent, "pull_request")
	req.Header.Set(headerSignature, "sha256=not-the-right-mac")
	w := httptest.NewRecorder()
	rv.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Empty(t, fs.jobs)
}

func TestReceiver_EnqueuesOnValidOpenedEvent(t *testing.T) {
	fs := newFakeStore()
	rv := newTestReceiver(fs)

	body := changeBody(t, "opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytesReader(body))
	req.Header.Set(headerEvent, "pull_request")
	req.Header.Set(headerSignature, sign(t, body))
	req.Header.Set(headerDelivery, "delivery-1")
	w := httptest.NewRecorder()
	rv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, fs.jobs, 1)
	require.Equal(t, 42, fs.jobs[0].ChangeRef.ChangeNumber)
	require.True(t, fs.processed["delivery-1"])
}

func TestReceiver_IgnoresUninterestingAction(t *testing.T) {
	fs := newFakeStore()
	rv := newTestReceiver(fs)

	body := changeBody(t, "closed")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytesReader(body))
	req.Header.Set(headerEvent, "pull_request")
	req.Header.Set(headerSignature, sign(t, body))
	w := httptest.NewRecorder()
	rv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, fs.jobs)
}

func TestReceiver_DuplicateWithinWindowIsSuppressed(t *testing.T) {
	fs := newFakeStore()
	rv := newTestReceiver(fs)

	body := changeBody(t, "opened")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytesReader(body))
		req.Header.Set(headerEvent, "pull_request")
		req.Header.Set(headerSignature, sign(t, body))
		w := httptest.NewRecorder()
		rv.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	require.Len(t, fs.jobs, 1, "the second delivery of the same change must not enqueue a second job")
}

func TestReceiver_AlreadyProcessedDeliveryIsSkipped(t *testing.T) {
	fs := newFakeStore()
	fs.processed["delivery-1"] = true
	rv := newTestReceiver(fs)

	body := changeBody(t, "opened")
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", bytesReader(body))
	req.Header.Set(headerEvent, "pull_request")
	req.Header.Set(headerSignature, sign(t, body))
	req.Header.Set(headerDelivery, "delivery-1")
	w := httptest.NewRecorder()
	rv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, fs.jobs)
}

func TestExtractMention_RecognizesModifiers(t *testing.T) {
	mod, ok := extractMention("@lineary security please check this", "@lineary")
	require.True(t, ok)
	require.Equal(t, "security", mod)

	mod, ok = extractMention("looks fine to me", "@lineary")
	require.False(t, ok)
	require.Equal(t, "", mod)

	mod, ok = extractMention("@lineary", "@lineary")
	require.True(t, ok)
	require.Equal(t, "", mod)
}

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
