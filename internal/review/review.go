// Package review implements the LLM Review Worker (§4.3): it dequeues
// ReviewJobs, fetches changed files through a Code-host Client, invokes an
// LLM client, and persists a structured ReviewInsight.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/apperr"
	"github.com/48Nauts-Operator/lineary/internal/codehost"
	"github.com/48Nauts-Operator/lineary/internal/idgen"
	"github.com/48Nauts-Operator/lineary/internal/llm"
	"github.com/48Nauts-Operator/lineary/internal/store"
)

// Store is the subset of *store.Store the Worker depends on.
type Store interface {
	ClaimNextReviewJob(worker string) (*store.ReviewJob, error)
	SetReviewJobStatus(id, status string) error
	AcquireReviewLock(key, holder string, ttl time.Duration) (bool, error)
	ReleaseReviewLock(key, holder string) error
	GetPromptTemplate(category string) (*store.PromptTemplate, error)
	RecordTemplateUsage(category string, succeeded bool, alpha float64) error
	CreateReviewInsight(ri store.ReviewInsight) error
	GetWorkItem(id string) (*store.WorkItem, error)
	FindWorkItemByExternalKey(key string) (*store.WorkItem, error)
	SetCodeChangeLinkage(workItemID string, ref store.ChangeRef) error
}

// Config bounds the Worker's file-selection and prompt-construction policy
// (§4.3 step 1-3).
type Config struct {
	AllowedExtensions   []string
	MaxChangedFiles     int
	MaxChangedLines     int
	MaxFileContentChars int
	MaxCompletionTokens int
	Temperature         float64
	WorkItemMarker      string // regex, e.g. `(?i)(#(\d+)|([A-Z]{2,10})-(\d+))`
	LockTTL             time.Duration
	MaxAttempts         int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
	BackoffFactor       float64
	EWMAAlpha           float64
}

// DefaultConfig mirrors the defaults applied by internal/config.
func DefaultConfig() Config {
	return Config{
		AllowedExtensions:   []string{".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".rb", ".rs", ".c", ".cpp", ".h", ".md"},
		MaxChangedFiles:     10,
		MaxChangedLines:     1000,
		MaxFileContentChars: 5000,
		MaxCompletionTokens: 4000,
		Temperature:         0.1,
		WorkItemMarker:      `(?i)(#(\d+)|([A-Z]{2,10})-(\d+))`,
		LockTTL:             2 * time.Minute,
		MaxAttempts:         3,
		BaseDelay:           time.Second,
		MaxDelay:            60 * time.Second,
		BackoffFactor:       2.0,
		EWMAAlpha:           0.2,
	}
}

// parsedInsight is the structured LLM response shape from §4.3 step 4.
type parsedInsight struct {
	OverallScore           int      `json:"overall_score"`
	SecurityIssues         []string `json:"security_issues"`
	PerformanceIssues      []string `json:"performance_issues"`
	Bugs                   []string `json:"bugs"`
	SuggestedImprovements  []string `json:"suggested_improvements"`
}

// Worker dequeues and processes ReviewJobs.
type Worker struct {
	ID       string
	Store    Store
	Codehost codehost.Client
	LLM      llm.Client
	Config   Config
	Logger   *slog.Logger

	markerRegexp *regexp.Regexp
}

// NewWorker constructs a Worker with a pre-compiled marker regexp.
func NewWorker(id string, st Store, ch codehost.Client, lc llm.Client, cfg Config, logger *slog.Logger) (*Worker, error) {
	re, err := regexp.Compile(cfg.WorkItemMarker)
	if err != nil {
		return nil, fmt.Errorf("review: compiling work-item marker regexp: %w", err)
	}
	return &Worker{ID: id, Store: st, Codehost: ch, LLM: lc, Config: cfg, Logger: logger, markerRegexp: re}, nil
}

// ProcessNext claims and processes a single pending job, returning false if
// the queue was empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.Store.ClaimNextReviewJob(w.ID)
	if err != nil {
		return false, fmt.Errorf("review: claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.process(ctx, *job); err != nil {
		w.Logger.Error("review: job failed", "job_id", job.ID, "error", err)
		_ = w.Store.SetReviewJobStatus(job.ID, "failed")
		return true, err
	}
	return true, nil
}

func lockKey(ref store.ChangeRef) string {
	return fmt.Sprintf("%s:%s:%d:%s", ref.Host, ref.Repo, ref.ChangeNumber, ref.HeadCommit)
}

func (w *Worker) process(ctx context.Context, job store.ReviewJob) error {
	key := lockKey(job.ChangeRef)
	ttl := w.Config.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	acquired, err := w.Store.AcquireReviewLock(key, w.ID, ttl)
	if err != nil {
		return fmt.Errorf("review: acquiring lock: %w", err)
	}
	if !acquired {
		return w.Store.SetReviewJobStatus(job.ID, "pending")
	}
	defer w.Store.ReleaseReviewLock(key, w.ID)

	files, err := w.retryCodehost(ctx, func() ([]codehost.ChangedFile, error) {
		return w.Codehost.ListChangedFiles(ctx, job.ChangeRef.Repo, job.ChangeRef.ChangeNumber)
	})
	if err != nil {
		return w.recordPermanentFailure(job, fmt.Sprintf("listing changed files: %v", err))
	}

	selected := w.selectFiles(files)
	contents, err := w.fetchContents(ctx, job.ChangeRef, selected)
	if err != nil {
		return w.recordPermanentFailure(job, fmt.Sprintf("fetching file contents: %v", err))
	}

	category := categoryForModifier(job.Modifier)
	template, err := w.Store.GetPromptTemplate(category)
	if err != nil {
		return fmt.Errorf("review: loading prompt template: %w", err)
	}
	if template == nil {
		template, err = w.Store.GetPromptTemplate("code_review")
		if err != nil {
			return fmt.Errorf("review: loading default prompt template: %w", err)
		}
	}
	if template == nil {
		return apperr.New(apperr.Fatal, "no prompt template configured for category "+category)
	}

	prompt := renderTemplate(template.Template, map[string]string{
		"change_title":       job.ChangeRef.Repo,
		"change_description": job.Modifier,
		"file_contents":       strings.Join(contents, "\n---\n"),
	})

	completion, err := w.retryLLM(ctx, prompt)
	succeeded := err == nil
	if usageErr := w.Store.RecordTemplateUsage(template.Category, succeeded, w.Config.EWMAAlpha); usageErr != nil {
		w.Logger.Warn("review: failed to record template usage", "error", usageErr)
	}
	if err != nil {
		return w.recordPermanentFailure(job, fmt.Sprintf("llm completion: %v", err))
	}

	insight := parseInsight(completion.Text)
	insight.ID = idgen.New("ri")
	insight.ChangeRef = job.ChangeRef

	if workItemID, ok := w.resolveWorkItem(job); ok {
		insight.WorkItemID = &workItemID
		if err := w.Store.SetCodeChangeLinkage(workItemID, job.ChangeRef); err != nil {
			w.Logger.Warn("review: failed to set code-change linkage", "error", err)
		}
	}

	if err := w.Store.CreateReviewInsight(insight); err != nil {
		return fmt.Errorf("review: persisting insight: %w", err)
	}

	summary := summaryComment(insight)
	if err := w.Codehost.PostComment(ctx, job.ChangeRef.Repo, job.ChangeRef.ChangeNumber, summary); err != nil {
		w.Logger.Warn("review: failed to post summary comment", "error", err)
	}

	return w.Store.SetReviewJobStatus(job.ID, "done")
}

// recordPermanentFailure writes an unparseable, zero-score insight and marks
// the job failed without retry, per §4.3's permanent-failure policy.
func (w *Worker) recordPermanentFailure(job store.ReviewJob, reason string) error {
	insight := store.ReviewInsight{
		ID:          idgen.New("ri"),
		ChangeRef:   job.ChangeRef,
		RawResponse: reason,
		Unparseable: true,
	}
	if err := w.Store.CreateReviewInsight(insight); err != nil {
		return fmt.Errorf("review: persisting failure insight: %w", err)
	}
	return w.Store.SetReviewJobStatus(job.ID, "failed")
}

func (w *Worker) selectFiles(files []codehost.ChangedFile) []codehost.ChangedFile {
	allowed := map[string]bool{}
	for _, ext := range w.Config.AllowedExtensions {
		allowed[ext] = true
	}

	totalLines := 0
	var kept []codehost.ChangedFile
	for _, f := range files {
		if f.Status == "removed" {
			continue
		}
		if !allowed[extensionOf(f.Path)] {
			continue
		}
		lines := f.Additions + f.Deletions
		if totalLines+lines > w.Config.MaxChangedLines {
			continue
		}
		totalLines += lines
		kept = append(kept, f)
		if len(kept) >= w.Config.MaxChangedFiles {
			break
		}
	}
	return kept
}

func extensionOf(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx == -1 {
		return ""
	}
	return path[idx:]
}

func (w *Worker) fetchContents(ctx context.Context, ref store.ChangeRef, files []codehost.ChangedFile) ([]string, error) {
	var contents []string
	for _, f := range files {
		content, err := w.Codehost.FetchFileContent(ctx, ref.Repo, f.Path, ref.HeadCommit)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", f.Path, err)
		}
		if len(content) > w.Config.MaxFileContentChars {
			content = content[:w.Config.MaxFileContentChars]
		}
		contents = append(contents, fmt.Sprintf("# %s\n%s", f.Path, content))
	}
	return contents, nil
}

func categoryForModifier(modifier string) string {
	switch modifier {
	case "security":
		return "code_review_security"
	case "performance":
		return "code_review_performance"
	case "explain":
		return "code_review_explain"
	default:
		return "code_review"
	}
}

func renderTemplate(tpl string, vars map[string]string) string {
	out := tpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

func (w *Worker) resolveWorkItem(job store.ReviewJob) (string, bool) {
	match := w.markerRegexp.FindString(job.Title + " " + job.Body)
	if match == "" {
		return "", false
	}
	wi, err := w.Store.FindWorkItemByExternalKey(match)
	if err != nil || wi == nil {
		return "", false
	}
	return wi.ID, true
}

func parseInsight(raw string) store.ReviewInsight {
	var parsed parsedInsight
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return store.ReviewInsight{RawResponse: raw, Unparseable: true}
	}

	suggestions := make([]store.Suggestion, 0, len(parsed.SuggestedImprovements))
	for _, s := range parsed.SuggestedImprovements {
		suggestions = append(suggestions, store.Suggestion{Severity: store.SeverityInfo, Message: s})
	}

	return store.ReviewInsight{
		QualityScore:         clampScore(parsed.OverallScore),
		HasSecurityIssues:    len(parsed.SecurityIssues) > 0,
		HasPerformanceIssues: len(parsed.PerformanceIssues) > 0,
		HasBugs:              len(parsed.Bugs) > 0,
		Suggestions:          suggestions,
		RawResponse:          raw,
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func summaryComment(ri store.ReviewInsight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Automated review\n\nQuality score: **%d/100**\n\n", ri.QualityScore)
	if ri.Unparseable {
		b.WriteString("_The model's response could not be parsed as structured feedback._\n")
		return b.String()
	}
	if ri.HasSecurityIssues {
		b.WriteString("- :warning: security issues flagged\n")
	}
	if ri.HasPerformanceIssues {
		b.WriteString("- :hourglass: performance issues flagged\n")
	}
	if ri.HasBugs {
		b.WriteString("- :bug: potential bugs flagged\n")
	}
	for _, s := range ri.Suggestions {
		fmt.Fprintf(&b, "- [%s] %s\n", s.Severity, s.Message)
	}
	return b.String()
}

// retryCodehost retries a code-host call up to Config.MaxAttempts with
// exponential backoff. Errors are not classified: every failure, transient
// or permanent, is retried until the attempts run out.
func (w *Worker) retryCodehost(ctx context.Context, call func() ([]codehost.ChangedFile, error)) ([]codehost.ChangedFile, error) {
	var lastErr error
	delay := w.Config.BaseDelay
	for attempt := 0; attempt < w.attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = w.nextDelay(delay)
		}
		files, err := call()
		if err == nil {
			return files, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (w *Worker) retryLLM(ctx context.Context, prompt string) (llm.CompletionResponse, error) {
	var lastErr error
	delay := w.Config.BaseDelay
	for attempt := 0; attempt < w.attempts(); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return llm.CompletionResponse{}, ctx.Err()
			case <-time.After(delay):
			}
			delay = w.nextDelay(delay)
		}
		resp, err := w.LLM.Complete(ctx, llm.CompletionRequest{
			Prompt:      prompt,
			MaxTokens:   w.Config.MaxCompletionTokens,
			Temperature: w.Config.Temperature,
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return llm.CompletionResponse{}, lastErr
}

func (w *Worker) attempts() int {
	if w.Config.MaxAttempts <= 0 {
		return 3
	}
	return w.Config.MaxAttempts
}

func (w *Worker) nextDelay(current time.Duration) time.Duration {
	factor := w.Config.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	next := time.Duration(float64(current) * factor)
	if w.Config.MaxDelay > 0 && next > w.Config.MaxDelay {
		return w.Config.MaxDelay
	}
	return next
}
