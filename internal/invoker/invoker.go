// Package invoker performs remote tool calls against catalog endpoints,
// retrying transport-level failures with doubling backoff. Application-level
// failures reported by the tool are final and never retried.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/tollgate"
)

const (
	// DefaultMaxAttempts bounds the total tries per invocation (first call
	// plus retries).
	DefaultMaxAttempts = 3
	// DefaultInitialBackoff is the delay before the first retry; it doubles
	// after every failed attempt.
	DefaultInitialBackoff = 200 * time.Millisecond
	// DefaultRequestTimeout caps one HTTP attempt.
	DefaultRequestTimeout = 30 * time.Second
)

// HTTPInvoker implements tollgate.Invoker over plain HTTP POST.
type HTTPInvoker struct {
	client         *http.Client
	maxAttempts    int
	initialBackoff time.Duration
}

// Option configures an HTTPInvoker.
type Option func(*HTTPInvoker)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(inv *HTTPInvoker) { inv.client = c }
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(inv *HTTPInvoker) {
		if n > 0 {
			inv.maxAttempts = n
		}
	}
}

// WithInitialBackoff overrides the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(inv *HTTPInvoker) {
		if d > 0 {
			inv.initialBackoff = d
		}
	}
}

// New creates an invoker with the default retry policy.
func New(options ...Option) *HTTPInvoker {
	inv := &HTTPInvoker{
		client:         &http.Client{Timeout: DefaultRequestTimeout},
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
	}
	for _, option := range options {
		option(inv)
	}
	return inv
}

// -- invocation wire types --

type wireRequest struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

type wireResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Message string                 `json:"message"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details"`
}

// retryableError marks a failure transient enough to try again.
type retryableError struct {
	err error
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// Invoke implements the tollgate.Invoker interface. It returns the decoded
// result value for completed calls, the whole envelope for pending calls,
// and an error for failed ones.
func (inv *HTTPInvoker) Invoke(ctx context.Context, tool tollgate.Tool, params map[string]interface{}) (interface{}, error) {
	body, err := json.Marshal(wireRequest{Tool: tool.Name, Params: params})
	if err != nil {
		return nil, tollgate.NewInternalError("invocation", fmt.Sprintf("marshal request for '%s'", tool.Key()), err)
	}

	backoff := inv.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= inv.maxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("invoker: retrying %s after %v (attempt %d/%d): %v", tool.Key(), backoff, attempt, inv.maxAttempts, lastErr)
			select {
			case <-ctx.Done():
				return nil, tollgate.NewCancelledError("invocation", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := inv.attempt(ctx, tool, body, attempt)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, tollgate.NewCancelledError("invocation", ctx.Err())
		}
		var transient *retryableError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = transient.Unwrap()
	}

	return nil, tollgate.NewRemoteInvocationError(tool.Key(), inv.maxAttempts, lastErr)
}

// attempt performs one HTTP round trip and decodes the response envelope.
func (inv *HTTPInvoker) attempt(ctx context.Context, tool tollgate.Tool, body []byte, attempt int) (interface{}, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, tollgate.NewInternalError("invocation", fmt.Sprintf("create request for '%s'", tool.Key()), err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := inv.client.Do(httpReq)
	if err != nil {
		// Transport failures (refused connections, DNS, client timeouts)
		// are the retryable class.
		return nil, &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (status %d): %s", httpResp.StatusCode, truncate(respBody))}
	}
	if httpResp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("client error (status %d): %s", httpResp.StatusCode, truncate(respBody))
		return nil, tollgate.NewRemoteInvocationError(tool.Key(), attempt, cause)
	}

	var envelope wireResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		cause := fmt.Errorf("undecodable response body: %w", err)
		return nil, tollgate.NewRemoteInvocationError(tool.Key(), attempt, cause)
	}

	switch envelope.Status {
	case "completed":
		var result interface{}
		if len(envelope.Result) > 0 {
			if err := json.Unmarshal(envelope.Result, &result); err != nil {
				cause := fmt.Errorf("undecodable result value: %w", err)
				return nil, tollgate.NewRemoteInvocationError(tool.Key(), attempt, cause)
			}
		}
		return result, nil
	case "failed":
		msg := "tool reported failure without detail"
		if envelope.Error != nil {
			msg = envelope.Error.Message
			if envelope.Error.Code != "" {
				msg = fmt.Sprintf("[%s] %s", envelope.Error.Code, envelope.Error.Message)
			}
		}
		return nil, tollgate.NewToolExecutionError("execution", tool.Key(), fmt.Errorf("%s", msg))
	case "pending":
		// Deferred work is not an error. The whole envelope is handed back
		// so the caller can persist the claim check.
		var asMap map[string]interface{}
		if err := json.Unmarshal(respBody, &asMap); err != nil {
			return nil, tollgate.NewRemoteInvocationError(tool.Key(), attempt, fmt.Errorf("undecodable pending envelope: %w", err))
		}
		return asMap, nil
	default:
		cause := fmt.Errorf("unknown response status %q", envelope.Status)
		return nil, tollgate.NewRemoteInvocationError(tool.Key(), attempt, cause)
	}
}

// truncate keeps response bodies readable in error messages.
func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
