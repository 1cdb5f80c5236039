package llm

import "context"

// FakeClient returns a scripted sequence of responses, for tests that drive
// the review parsing pipeline without a network call.
type FakeClient struct {
	Responses []CompletionResponse
	Errors    []error
	calls     int
	Requests  []CompletionRequest
}

func (f *FakeClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	f.Requests = append(f.Requests, req)
	idx := f.calls
	f.calls++

	if idx < len(f.Errors) && f.Errors[idx] != nil {
		return CompletionResponse{}, f.Errors[idx]
	}
	if idx < len(f.Responses) {
		return f.Responses[idx], nil
	}
	if len(f.Responses) > 0 {
		return f.Responses[len(f.Responses)-1], nil
	}
	return CompletionResponse{}, nil
}

var _ Client = (*FakeClient)(nil)
