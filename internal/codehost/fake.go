package codehost

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests, recording every call it
// receives so assertions can inspect them.
type FakeClient struct {
	mu sync.Mutex

	Files    map[string][]ChangedFile  // "repo#changeNumber" -> files
	Contents map[string]string         // "repo#path@ref" -> content
	Comments []string
	Reviews  []PostedReview

	postedHashes map[string]bool
}

// PostedReview records a single PostReview call for assertions.
type PostedReview struct {
	Repo         string
	ChangeNumber int
	HeadCommit   string
	Summary      string
	Comments     []LineComment
}

// NewFakeClient returns an empty FakeClient ready for use.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		Files:        map[string][]ChangedFile{},
		Contents:     map[string]string{},
		postedHashes: map[string]bool{},
	}
}

func (f *FakeClient) MintInstallationToken(ctx context.Context, installationID string) (InstallationToken, error) {
	return InstallationToken{Token: "fake-token-" + installationID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *FakeClient) ListChangedFiles(ctx context.Context, repo string, changeNumber int) ([]ChangedFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Files[fmt.Sprintf("%s#%d", repo, changeNumber)], nil
}

func (f *FakeClient) FetchFileContent(ctx context.Context, repo, path, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.Contents[fmt.Sprintf("%s#%s@%s", repo, path, ref)]
	if !ok {
		return "", fmt.Errorf("codehost: fake client has no content for %s at %s@%s", path, repo, ref)
	}
	return content, nil
}

func (f *FakeClient) PostComment(ctx context.Context, repo string, changeNumber int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := contentHash(repo, changeNumber, body)
	if f.postedHashes[hash] {
		return nil
	}
	f.postedHashes[hash] = true
	f.Comments = append(f.Comments, body)
	return nil
}

func (f *FakeClient) PostReview(ctx context.Context, repo string, changeNumber int, headCommit string, summary string, comments []LineComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reviews = append(f.Reviews, PostedReview{Repo: repo, ChangeNumber: changeNumber, HeadCommit: headCommit, Summary: summary, Comments: comments})
	return nil
}

var _ Client = (*FakeClient)(nil)
