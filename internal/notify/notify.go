// Package notify dispatches one event per terminal job transition to the
// external notification collaborator (webhooks, transactional email).
// Delivery retry beyond the bounded attempts here is that collaborator's
// responsibility, not this pipeline's.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/blanklogo/pipeline/internal/job"
)

// Event describes a job that reached a terminal state.
type Event struct {
	JobID     string        `json:"job_id"`
	UserID    string        `json:"user_id"`
	Status    job.Status    `json:"status"`
	OutputRef string        `json:"output_ref,omitempty"`
	ErrorKind job.ErrorKind `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Notifier receives terminal-state events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Compile-time checks.
var (
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)

// WebhookNotifier POSTs events to a configured webhook URL with a small
// bounded retry for transient failures.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier for the given URL.
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Notify delivers the event to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("notify: context cancelled: %w", ctx.Err())
			case <-time.After(n.backoff):
			}
		}

		lastErr = n.post(ctx, body)
		if lastErr == nil {
			return nil
		}
	}

	n.logger.Error("webhook delivery failed",
		slog.String("job_id", ev.JobID),
		slog.String("status", string(ev.Status)),
		slog.String("error", lastErr.Error()),
	)
	return fmt.Errorf("notify: webhook delivery: %w", lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes events to the structured log. Used when no webhook
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the terminal event.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info("job reached terminal state",
		slog.String("job_id", ev.JobID),
		slog.String("user_id", ev.UserID),
		slog.String("status", string(ev.Status)),
		slog.String("output_ref", ev.OutputRef),
		slog.String("error_kind", string(ev.ErrorKind)),
	)
	return nil
}
