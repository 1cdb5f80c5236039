package temporal

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestReviewPollWorkflow_ContinuesAsNewAfterBatch(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var a *Activities
	calls := 0
	env.OnActivity(a.ProcessReviewJobActivity, mock.Anything).Run(func(mock.Arguments) {
		calls++
	}).Return(true, nil)

	env.ExecuteWorkflow(ReviewPollWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Equal(t, pollBatchSize, calls)
}

func TestReviewPollWorkflow_SleepsOnEmptyClaim(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()

	var a *Activities
	calls := 0
	env.OnActivity(a.ProcessReviewJobActivity, mock.Anything).Run(func(mock.Arguments) {
		calls++
	}).Return(false, nil)

	env.ExecuteWorkflow(ReviewPollWorkflow)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	require.Equal(t, pollBatchSize, calls)
}
