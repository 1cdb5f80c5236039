package webhook

// CodeChangeEvent is the internal, host-agnostic normalization of an inbound
// webhook payload (§4.2 step 3).
type CodeChangeEvent struct {
	Host         string
	Repo         string
	ChangeNumber int
	HeadCommit   string
	Title        string
	Body         string
}

// changePayload is the subset of a code-host's pull/merge-request webhook
// payload this receiver understands, modeled on GitHub's pull_request event
// shape (the dominant shape across the retrieval corpus) but kept host-
// agnostic in naming.
type changePayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// commentPayload is the subset of a review-comment webhook payload carrying
// an explicit reviewer mention (§4.2 step 3, second bullet).
type commentPayload struct {
	Action  string `json:"action"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Issue struct {
		Number int `json:"number"`
	} `json:"issue"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// eventKind classifies a raw event-type header for routing.
type eventKind string

const (
	eventChange  eventKind = "change"  // opened | synchronize | reopened
	eventComment eventKind = "comment"
	eventOther   eventKind = "other"
)

var changeActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}
