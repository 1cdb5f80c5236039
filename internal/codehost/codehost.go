// Package codehost defines the Code-host Client collaborator interface
// (§4.5): the operations the core depends on a hosted git provider for, but
// does not implement itself.
package codehost

import (
	"context"
	"time"
)

// ChangedFile describes one file touched by a change, as returned by
// ListChangedFiles.
type ChangedFile struct {
	Path      string
	Status    string // "added", "modified", "removed", "renamed"
	Additions int
	Deletions int
}

// LineComment is a single inline review comment anchored to a file and line.
type LineComment struct {
	Path string
	Line int
	Body string
}

// InstallationToken is a short-lived, installation-scoped access token.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}

// Client is the collaborator interface the LLM Review Worker depends on; the
// Webhook Receiver does not call it. Every operation is safe to retry idempotently except
// PostComment, which callers must de-duplicate by a stable content hash
// before calling (§4.5).
type Client interface {
	// MintInstallationToken exchanges an installation id for a usable access
	// token, minting from a signed app assertion under the hood.
	MintInstallationToken(ctx context.Context, installationID string) (InstallationToken, error)

	// ListChangedFiles lists every file touched by changeNumber in repo.
	ListChangedFiles(ctx context.Context, repo string, changeNumber int) ([]ChangedFile, error)

	// FetchFileContent returns the UTF-8 content of path at ref.
	FetchFileContent(ctx context.Context, repo, path, ref string) (string, error)

	// PostComment posts a single top-level comment on a change. Callers must
	// de-duplicate by content hash; the client performs no dedup itself.
	PostComment(ctx context.Context, repo string, changeNumber int, body string) error

	// PostReview posts a review with a summary body and optional per-line
	// comments.
	PostReview(ctx context.Context, repo string, changeNumber int, headCommit string, summary string, comments []LineComment) error
}
