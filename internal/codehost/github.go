package codehost

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"
	"golang.org/x/time/rate"
)

// githubClient implements Client against the GitHub REST API, grounded on
// the interface-over-go-github pattern: the concrete SDK type never leaks
// past this file.
type githubClient struct {
	appJWT string // pre-signed app-level JWT, minted outside this process
	app    *github.Client
	mu     sync.Mutex
	byInst map[string]*github.Client // cached per-installation clients

	limiter *rate.Limiter
	timeout time.Duration

	postedMu sync.Mutex
	posted   map[string]bool // content-hash dedup for PostComment
}

// NewGitHubClient builds a Client backed by go-github. appJWT is a
// pre-signed RS256 assertion identifying the GitHub App; minting that
// assertion is outside this package's scope (§4.5 treats it as an input).
// requestsPerSecond/burst bound outbound calls per the codehost outbound
// limiter named in the domain stack.
func NewGitHubClient(baseURL, appJWT string, requestsPerSecond float64, burst int, timeout time.Duration) (Client, error) {
	app := github.NewClient(nil).WithAuthToken(appJWT)
	if baseURL != "" {
		var err error
		app, err = app.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("codehost: configuring base url: %w", err)
		}
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	if burst <= 0 {
		burst = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &githubClient{
		appJWT:  appJWT,
		app:     app,
		byInst:  map[string]*github.Client{},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		timeout: timeout,
		posted:  map[string]bool{},
	}, nil
}

func (c *githubClient) wait(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("codehost: rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

func (c *githubClient) MintInstallationToken(ctx context.Context, installationID string) (InstallationToken, error) {
	ctx, cancel, err := c.wait(ctx)
	if err != nil {
		return InstallationToken{}, err
	}
	defer cancel()

	instNum, err := parseInstallationID(installationID)
	if err != nil {
		return InstallationToken{}, err
	}

	token, _, err := c.app.Apps.CreateInstallationToken(ctx, instNum, nil)
	if err != nil {
		return InstallationToken{}, fmt.Errorf("codehost: minting installation token: %w", err)
	}

	c.mu.Lock()
	c.byInst[installationID] = github.NewClient(nil).WithAuthToken(token.GetToken())
	c.mu.Unlock()

	return InstallationToken{Token: token.GetToken(), ExpiresAt: token.GetExpiresAt().Time}, nil
}

func (c *githubClient) clientFor(installationID string) *github.Client {
	if installationID == "" {
		return c.app
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.byInst[installationID]; ok {
		return cl
	}
	return c.app
}

func (c *githubClient) ListChangedFiles(ctx context.Context, repo string, changeNumber int) ([]ChangedFile, error) {
	ctx, cancel, err := c.wait(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	gh := c.clientFor("")
	var out []ChangedFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := gh.PullRequests.ListFiles(ctx, owner, name, changeNumber, opts)
		if err != nil {
			return nil, fmt.Errorf("codehost: listing changed files: %w", err)
		}
		for _, f := range files {
			out = append(out, ChangedFile{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *githubClient) FetchFileContent(ctx context.Context, repo, path, ref string) (string, error) {
	ctx, cancel, err := c.wait(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	gh := c.clientFor("")
	content, _, _, err := gh.Repositories.GetContents(ctx, owner, name, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", fmt.Errorf("codehost: fetching file content: %w", err)
	}
	if content == nil {
		return "", fmt.Errorf("codehost: %s is a directory, not a file", path)
	}
	text, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("codehost: decoding file content: %w", err)
	}
	return text, nil
}

func (c *githubClient) PostComment(ctx context.Context, repo string, changeNumber int, body string) error {
	hash := contentHash(repo, changeNumber, body)
	c.postedMu.Lock()
	if c.posted[hash] {
		c.postedMu.Unlock()
		return nil
	}
	c.postedMu.Unlock()

	ctx, cancel, err := c.wait(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	gh := c.clientFor("")
	_, _, err = gh.Issues.CreateComment(ctx, owner, name, changeNumber, &github.IssueComment{Body: github.Ptr(body)})
	if err != nil {
		return fmt.Errorf("codehost: posting comment: %w", err)
	}

	c.postedMu.Lock()
	c.posted[hash] = true
	c.postedMu.Unlock()
	return nil
}

func (c *githubClient) PostReview(ctx context.Context, repo string, changeNumber int, headCommit string, summary string, comments []LineComment) error {
	ctx, cancel, err := c.wait(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	ghComments := make([]*github.DraftReviewComment, 0, len(comments))
	for _, lc := range comments {
		ghComments = append(ghComments, &github.DraftReviewComment{
			Path: github.Ptr(lc.Path),
			Line: github.Ptr(lc.Line),
			Body: github.Ptr(lc.Body),
		})
	}

	gh := c.clientFor("")
	_, _, err = gh.PullRequests.CreateReview(ctx, owner, name, changeNumber, &github.PullRequestReviewRequest{
		CommitID: github.Ptr(headCommit),
		Body:     github.Ptr(summary),
		Event:    github.Ptr("COMMENT"),
		Comments: ghComments,
	})
	if err != nil {
		return fmt.Errorf("codehost: posting review: %w", err)
	}
	return nil
}

func contentHash(repo string, changeNumber int, body string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d:%s", repo, changeNumber, body)))
	return hex.EncodeToString(sum[:])
}

func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("codehost: repo %q is not in owner/name form", repo)
	}
	return parts[0], parts[1], nil
}

func parseInstallationID(installationID string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(installationID, "%d", &id); err != nil {
		return 0, fmt.Errorf("codehost: invalid installation id %q: %w", installationID, err)
	}
	return id, nil
}
