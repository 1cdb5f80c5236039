package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeClient_ReturnsScriptedResponse(t *testing.T) {
	fc := &FakeClient{Responses: []CompletionResponse{{Text: `{"quality_score":80}`}}}

	resp, err := fc.Complete(context.Background(), CompletionRequest{Prompt: "review this diff"})
	require.NoError(t, err)
	require.Equal(t, `{"quality_score":80}`, resp.Text)
	require.Len(t, fc.Requests, 1)
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 503, Message: "overloaded"}
	require.Contains(t, err.Error(), "503")
	require.Contains(t, err.Error(), "overloaded")
}
