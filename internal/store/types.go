// Package store is the durable relational layer backing every entity in §3:
// Project, WorkItem, Sprint, SprintSession, ReviewJob, ReviewInsight,
// FeedbackRecord, and PromptTemplate. The store is the single source of
// truth (§5); any in-memory cache above it must be read-through/write-through.
package store

import "time"

// WorkItemStatus is the lifecycle state of a WorkItem.
type WorkItemStatus string

const (
	StatusBacklog    WorkItemStatus = "backlog"
	StatusTodo       WorkItemStatus = "todo"
	StatusInProgress WorkItemStatus = "in-progress"
	StatusInReview   WorkItemStatus = "in-review"
	StatusDone       WorkItemStatus = "done"
	StatusCancelled  WorkItemStatus = "cancelled"
)

// SprintStatus is the lifecycle state of a Sprint.
type SprintStatus string

const (
	SprintPlanning SprintStatus = "planning"
	SprintActive   SprintStatus = "active"
	SprintDone     SprintStatus = "completed"
)

// SessionStatus is the lifecycle state of a SprintSession (§4.4).
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// Severity is the severity of a single review suggestion.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Project is the minimal projection of a Project this core depends on; the
// full entity is owned by an external CRUD layer (§1).
type Project struct {
	ID     string
	Name   string
	Color  string
	Status string
}

// WorkItem is a unit of plannable work (§3).
type WorkItem struct {
	ID              string
	ExternalKey     *string // human-facing marker, e.g. "LIN-456", matched against a review job's title and body text (§4.3 step 5)
	ProjectID       string
	Title           string
	Description     string
	IssueType       string // estimator.DetectIssueType keyword category, set at creation and re-set on SetEstimate (§4.1, §4.6)
	Status          WorkItemStatus
	Priority        int
	ParentID        *string
	EstimatedHours  *float64
	ActualHours     *float64
	StoryPoints     *int
	TokenBudget     *int
	CodeHost        *string
	CodeRepo        *string
	CodeChangeNumber *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Sprint is a planned, time-bounded bundle of WorkItems (§3).
type Sprint struct {
	ID        string
	ProjectID string
	Name      string
	StartsAt  time.Time
	EndsAt    time.Time
	Status    SprintStatus
}

// SprintSession is the executing instance over a Sprint's task bundle (§4.4).
type SprintSession struct {
	SprintID    string
	TaskQueue   []string
	Completed   []string
	CurrentID   *string
	Status      SessionStatus
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ChangeRef identifies a code change on a code host (§3, §4.2).
type ChangeRef struct {
	Host         string
	Repo         string
	ChangeNumber int
	HeadCommit   string
}

// ReviewJob is a unit of work for the LLM Review Worker (§4.3).
type ReviewJob struct {
	ID         string
	ChangeRef  ChangeRef
	Modifier   string // "", "security", "performance", "explain"
	Title      string
	Body       string
	EnqueuedAt time.Time
	ClaimedAt  *time.Time
	ClaimedBy  *string
	Status     string // "pending", "claimed", "done", "failed"
}

// Suggestion is a single structured review comment (§3).
type Suggestion struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Path     string   `json:"path,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// ReviewInsight is the structured, distilled output of an LLM code review (§3).
type ReviewInsight struct {
	ID                   string
	ChangeRef            ChangeRef
	WorkItemID           *string
	QualityScore         int
	HasSecurityIssues    bool
	HasPerformanceIssues bool
	HasBugs              bool
	Suggestions          []Suggestion
	RawResponse          string
	Unparseable          bool
	CreatedAt            time.Time
}

// FeedbackRecord is an append-only accuracy observation (§3, §4.6).
type FeedbackRecord struct {
	ID                   string
	WorkItemID           string
	EstimatedHours       float64
	ActualHours          float64
	AccuracyScore        int
	ReviewQualityScore   *int
	IssueType            string
	Priority             int
	Complexity           int
	HadSecurityIssues    bool
	HadPerformanceIssues bool
	ReviewCount          int
	CreatedAt            time.Time
}

// PromptTemplate is a reusable, usage-tracked LLM prompt (§3, §4.3 step 7).
type PromptTemplate struct {
	ID          string
	Category    string
	Template    string
	Variables   map[string]string
	UsageCount  int
	SuccessRate float64
}
