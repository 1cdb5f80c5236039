package estimator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectIssueType_Precedence(t *testing.T) {
	// "fix" (bug) should win over "feature" even though both appear.
	require.Equal(t, IssueBug, DetectIssueType("fix the new feature", ""))
	require.Equal(t, IssueFeature, DetectIssueType("add support for widgets", ""))
	require.Equal(t, IssueRefactor, DetectIssueType("refactor the widget module", ""))
	require.Equal(t, IssueDocs, DetectIssueType("update the readme", ""))
	require.Equal(t, IssueTest, DetectIssueType("improve test coverage", ""))
	require.Equal(t, IssueOptimization, DetectIssueType("optimize the hot path", ""))
	require.Equal(t, IssueFeature, DetectIssueType("", ""), "default is feature")
}

func TestEstimate_RoundsTokensAndDerivesMinutes(t *testing.T) {
	cfg := DefaultConfig()
	est := Estimate(Input{Title: "add feature", Description: "short"}, cfg)

	require.Equal(t, 0, est.TokenBudget%cfg.TokenRoundTo, "tokens must round to nearest %d", cfg.TokenRoundTo)
	require.Equal(t, est.TokenBudget/cfg.TokensPerMinute, est.EstimatedMinutes)
}

func TestEstimate_ConfidenceAccumulatesAndCaps(t *testing.T) {
	cfg := DefaultConfig()

	bare := Estimate(Input{Title: "add x"}, cfg)
	require.Equal(t, 0.5, bare.Confidence)

	rich := Estimate(Input{
		Title:       "add x",
		Description: strings.Repeat("a", 150),
		StoryPoints: 5,
		Priority:    1,
		Labels:      []string{"backend"},
	}, cfg)
	require.InDelta(t, 0.95, rich.Confidence, 1e-9, "0.5+0.15+0.15+0.10+0.10=1.0 capped at 0.95")
}

func TestEstimate_UnknownStoryPointsAndPriorityFallBackToDefaults(t *testing.T) {
	cfg := DefaultConfig()
	est := Estimate(Input{Title: "add x", StoryPoints: 4, Priority: 9}, cfg)
	require.Equal(t, 3, est.StoryPoints, "unrecognized story points fall back to 3")
}

func TestEstimate_IsTotalOverAnyDescription(t *testing.T) {
	cfg := DefaultConfig()
	for _, desc := range []string{"", "a", strings.Repeat("x", 10000)} {
		est := Estimate(Input{Title: "anything", Description: desc}, cfg)
		require.GreaterOrEqual(t, est.TokenBudget, 0)
	}
}
