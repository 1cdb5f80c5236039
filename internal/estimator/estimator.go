// Package estimator implements the deterministic task-to-estimate mapping.
// The store uses DetectIssueType to default a WorkItem's issue type; the
// Continuous Sprint Executor and the AI Feedback Loop do not call Estimate.
package estimator

import (
	"math"
	"strings"
)

// IssueType is the keyword-detected category of a task description.
type IssueType string

const (
	IssueBug          IssueType = "bug"
	IssueFeature      IssueType = "feature"
	IssueRefactor     IssueType = "refactor"
	IssueDocs         IssueType = "documentation"
	IssueTest         IssueType = "test"
	IssueOptimization IssueType = "optimization"
)

// Input is everything the Estimator needs to produce an Estimate.
type Input struct {
	Title       string
	Description string
	StoryPoints int // 0 means "not provided"
	Priority    int // 1 (critical) .. 5 (lowest), 0 means "not provided"
	Labels      []string
}

// Estimate is the Estimator's output (§4.1).
type Estimate struct {
	StoryPoints     int
	TokenBudget     int
	EstimatedMinutes int
	Confidence      float64
	IssueType       IssueType
}

// Config carries the tunable constants normally supplied via internal/config.
type Config struct {
	AvgCharsPerToken   int
	RefinementBuffer   float64
	TokenRoundTo       int
	TokensPerMinute    int
	ConfidenceBaseline float64
}

// DefaultConfig mirrors internal/config's applied defaults so the Estimator
// is independently testable without wiring a full Config.
func DefaultConfig() Config {
	return Config{
		AvgCharsPerToken:   4,
		RefinementBuffer:   1.2,
		TokenRoundTo:       100,
		TokensPerMinute:    100,
		ConfidenceBaseline: 0.5,
	}
}

// baseActivityTokens are fixed per-activity costs summed before the
// description-length term is added (§4.1).
const (
	tokensAnalysis        = 300
	tokensContextGather   = 200
	tokensCodeGeneration  = 600
	tokensTestGeneration  = 300
	tokensDocumentation   = 150
)

// storyPointMultiplier maps the Fibonacci story-point scale to an effort
// multiplier, 0.5x at the smallest size up to 4.0x at the largest.
var storyPointMultiplier = map[int]float64{
	1:  0.5,
	2:  0.75,
	3:  1.0,
	5:  1.5,
	8:  2.0,
	13: 3.0,
	21: 4.0,
}

// priorityMultiplier maps priority 1 (critical) through 5 (lowest).
var priorityMultiplier = map[int]float64{
	1: 1.3,
	2: 1.15,
	3: 1.0,
	4: 0.9,
	5: 0.8,
}

// keyword families used for issue-type detection, checked in override
// precedence order: bug > feature > refactor > documentation > test >
// optimization > default feature.
var keywordFamilies = []struct {
	issueType IssueType
	keywords  []string
}{
	{IssueBug, []string{"bug", "fix", "broken", "crash", "error", "defect", "regression"}},
	{IssueFeature, []string{"feature", "add", "implement", "support", "new"}},
	{IssueRefactor, []string{"refactor", "cleanup", "restructure", "simplify", "rewrite"}},
	{IssueDocs, []string{"document", "docs", "readme", "comment"}},
	{IssueTest, []string{"test", "coverage", "spec", "unit test"}},
	{IssueOptimization, []string{"optimize", "performance", "speed up", "latency", "throughput"}},
}

// DetectIssueType applies keyword precedence over title+description. bug
// keywords override feature keywords override the rest; the default is
// feature.
func DetectIssueType(title, description string) IssueType {
	haystack := strings.ToLower(title + " " + description)
	for _, family := range keywordFamilies {
		for _, kw := range family.keywords {
			if strings.Contains(haystack, kw) {
				return family.issueType
			}
		}
	}
	return IssueFeature
}

// Estimate computes {story-points, token-budget, minute-estimate, confidence}
// for the given input. The function is total: every description produces a
// result, there are no failure modes (§4.1).
func Estimate(in Input, cfg Config) Estimate {
	issueType := DetectIssueType(in.Title, in.Description)

	base := float64(tokensAnalysis + tokensContextGather)
	switch issueType {
	case IssueFeature, IssueBug:
		base += tokensCodeGeneration + tokensTestGeneration
	case IssueRefactor:
		base += tokensCodeGeneration
	case IssueTest:
		base += tokensTestGeneration
	case IssueDocs:
		base += tokensDocumentation
	case IssueOptimization:
		base += tokensCodeGeneration
	}

	charsPerToken := cfg.AvgCharsPerToken
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	base += float64(len(in.Description)) / float64(charsPerToken)

	storyPoints := in.StoryPoints
	spMultiplier, ok := storyPointMultiplier[storyPoints]
	if !ok {
		storyPoints = 3
		spMultiplier = storyPointMultiplier[3]
	}

	priority := in.Priority
	prMultiplier, ok := priorityMultiplier[priority]
	if !ok {
		priority = 3
		prMultiplier = priorityMultiplier[3]
	}

	refinement := cfg.RefinementBuffer
	if refinement <= 0 {
		refinement = 1.2
	}

	tokens := base * spMultiplier * prMultiplier * refinement

	roundTo := cfg.TokenRoundTo
	if roundTo <= 0 {
		roundTo = 100
	}
	tokens = math.Round(tokens/float64(roundTo)) * float64(roundTo)

	tokensPerMinute := cfg.TokensPerMinute
	if tokensPerMinute <= 0 {
		tokensPerMinute = 100
	}
	minutes := int(math.Round(tokens / float64(tokensPerMinute)))

	confidence := cfg.ConfidenceBaseline
	if confidence <= 0 {
		confidence = 0.5
	}
	if in.StoryPoints > 0 {
		confidence += 0.15
	}
	if len(in.Description) > 100 {
		confidence += 0.15
	}
	if in.Priority > 0 && in.Priority != 3 {
		confidence += 0.10
	}
	if len(in.Labels) > 0 {
		confidence += 0.10
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Estimate{
		StoryPoints:      storyPoints,
		TokenBudget:      int(tokens),
		EstimatedMinutes: minutes,
		Confidence:       confidence,
		IssueType:        issueType,
	}
}
