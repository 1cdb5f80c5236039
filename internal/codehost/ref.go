package codehost

import (
	"fmt"
	"regexp"
	"strconv"
)

var changeURLPattern = regexp.MustCompile(`^https?://[^/]+/([^/]+)/([^/]+)/pull/(\d+)`)

// ChangeReference is the parsed components of a change URL.
type ChangeReference struct {
	Owner        string
	Repo         string
	ChangeNumber int
}

// ParseChangeURL parses a pull-request URL into its owner, repo, and change
// number, tolerating any host (github.com, a GitHub Enterprise domain, etc).
func ParseChangeURL(rawURL string) (ChangeReference, error) {
	matches := changeURLPattern.FindStringSubmatch(rawURL)
	if matches == nil {
		return ChangeReference{}, fmt.Errorf("codehost: %q is not a recognized change URL", rawURL)
	}
	number, err := strconv.Atoi(matches[3])
	if err != nil {
		return ChangeReference{}, fmt.Errorf("codehost: invalid change number in %q: %w", rawURL, err)
	}
	return ChangeReference{Owner: matches[1], Repo: matches[2], ChangeNumber: number}, nil
}
