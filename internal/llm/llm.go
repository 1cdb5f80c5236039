// Package llm is the outbound client for the text-in/JSON-out completion
// call the LLM Review Worker depends on (§6).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxRetries = 3
const retryBaseDelay = time.Second

// CompletionRequest is a single bounded completion call.
type CompletionRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the raw text the model returned. Parsing it into a
// structured review is the caller's responsibility (§4.3 step 5 tolerates
// partial/malformed JSON; the client itself does not interpret content).
type CompletionResponse struct {
	Text         string
	PromptTokens int
	OutputTokens int
}

// APIError is a non-2xx response from the LLM provider.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	RawBody    string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: api error (status %d): %s", e.StatusCode, e.Message)
}

// Client performs bounded completion calls against a configured LLM
// endpoint.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

type clientImpl struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient builds a Client against baseURL, authenticating with apiKey and
// requesting completions from model. timeout should be the LLM-call deadline
// from §5 (up to 120 seconds).
func NewClient(baseURL, apiKey, model string, timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &clientImpl{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type completionWireRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type completionWireResponse struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		OutputTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete performs a completion call, retrying with exponential backoff up
// to maxRetries times on a 429 or 5xx response and on any error that is not
// an APIError (transport failures and undecodable responses).
func (c *clientImpl) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	wireReq := completionWireRequest{
		Model:       c.model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	bodyBytes, err := json.Marshal(wireReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return CompletionResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.doOnce(ctx, bodyBytes)
		if err == nil {
			return resp, nil
		}

		var apiErr *APIError
		if isRetryable(err, &apiErr) {
			lastErr = err
			continue
		}
		return CompletionResponse{}, err
	}
	return CompletionResponse{}, fmt.Errorf("llm: request failed after %d retries: %w", maxRetries, lastErr)
}

func isRetryable(err error, apiErr **APIError) bool {
	ae, ok := err.(*APIError)
	if !ok {
		return true // transport-level errors are retried
	}
	*apiErr = ae
	return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
}

func (c *clientImpl) doOnce(ctx context.Context, bodyBytes []byte) (CompletionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RawBody: string(respBody)}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return CompletionResponse{}, apiErr
	}

	var wireResp completionWireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return CompletionResponse{}, fmt.Errorf("llm: decoding response: %w", err)
	}

	return CompletionResponse{
		Text:         wireResp.Text,
		PromptTokens: wireResp.Usage.PromptTokens,
		OutputTokens: wireResp.Usage.OutputTokens,
	}, nil
}
