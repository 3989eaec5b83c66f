package inpaint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Static errors for inpaint client operations.
var (
	// ErrBaseURLRequired is returned when the backend URL is not provided.
	ErrBaseURLRequired = errors.New("inpaint: base URL is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("inpaint: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response has no task ID.
	ErrNoTaskIDReturned = errors.New("inpaint: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("inpaint: submit failed")
	// ErrServerError is returned when the backend returns a 5xx status code.
	ErrServerError = errors.New("inpaint: server error")
	// ErrRateLimited is returned when the backend returns a 429 status code.
	ErrRateLimited = errors.New("inpaint: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status.
	ErrRequestFailed = errors.New("inpaint: request failed")
	// ErrTaskFailed is returned when the backend reports a failed task.
	ErrTaskFailed = errors.New("inpaint: task failed")
	// ErrNoOutput is returned when a completed task carries no video.
	ErrNoOutput = errors.New("inpaint: no video in completed task")
)

// Client defines the interface for interacting with the inpainting backend.
type Client interface {
	// Submit uploads a video for inpainting and returns the task ID.
	Submit(ctx context.Context, videoB64 string, opts SubmitOptions) (taskID string, err error)

	// Poll checks the status of a task and returns the result.
	Poll(ctx context.Context, taskID string) (PollResult, error)
}

// HTTPClient is the HTTP implementation of the Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the bearer token for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new inpainting backend client.
func NewClient(baseURL string, opts ...ClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit uploads a video for inpainting and returns the task ID.
func (c *HTTPClient) Submit(ctx context.Context, videoB64 string, opts SubmitOptions) (string, error) {
	if opts.Mode == "" {
		opts.Mode = "inpaint"
	}

	reqBody := runRequest{
		Input: runInput{
			VideoBase64: videoB64,
			Mode:        opts.Mode,
			Platform:    opts.Platform,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("inpaint: marshal request: %w", err)
	}

	var resp runResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+"/run", bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoTaskIDReturned
	}
	return resp.ID, nil
}

// Poll checks the status of a task and returns the result.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, c.baseURL+"/status/"+taskID, nil, &resp); err != nil {
		return PollResult{}, err
	}

	result := PollResult{Status: Status(resp.Status)}
	switch result.Status {
	case StatusCompleted:
		result.VideoBase64 = resp.Output.VideoBase64
	case StatusFailed:
		result.Error = resp.Error
	}
	return result, nil
}

// ProcessFile submits the video at srcPath, polls until the task reaches a
// terminal state, and writes the decoded result to dstPath. pollInterval
// spaces the status checks; the caller's context bounds the round-trip.
func ProcessFile(ctx context.Context, c Client, srcPath, dstPath string, opts SubmitOptions, pollInterval time.Duration) error {
	raw, err := os.ReadFile(srcPath) // #nosec G304 - path is produced by the pipeline
	if err != nil {
		return fmt.Errorf("inpaint: read input: %w", err)
	}

	taskID, err := c.Submit(ctx, base64.StdEncoding.EncodeToString(raw), opts)
	if err != nil {
		return err
	}

	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("inpaint: wait for task %s: %w", taskID, ctx.Err())
		case <-time.After(pollInterval):
		}

		result, err := c.Poll(ctx, taskID)
		if err != nil {
			return err
		}
		if !result.Status.IsTerminal() {
			continue
		}

		switch result.Status {
		case StatusCompleted:
			if result.VideoBase64 == "" {
				return ErrNoOutput
			}
			out, err := base64.StdEncoding.DecodeString(result.VideoBase64)
			if err != nil {
				return fmt.Errorf("inpaint: decode output: %w", err)
			}
			if err := os.WriteFile(dstPath, out, 0600); err != nil {
				return fmt.Errorf("inpaint: write output: %w", err)
			}
			return nil
		case StatusFailed:
			return fmt.Errorf("%w: %s", ErrTaskFailed, result.Error)
		default:
			return fmt.Errorf("%w: backend task %s", ErrTaskFailed, result.Status)
		}
	}
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("inpaint: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("inpaint: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("inpaint: create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("inpaint: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("inpaint: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("inpaint: unmarshal response: %w", err)
		}
	}
	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
