package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-retryablehttp"

	"av1-worker/internal/exporter"
	"av1-worker/pkg/models"
)

// Options configure a Notifier.
type Options struct {
	URL       string
	RetryMax  int
	RetryWait time.Duration
	Headers   map[string]string
}

// Notifier posts export outcomes to a webhook.
type Notifier struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     hclog.Logger
	now        func() time.Time
}

// New creates a notifier with a retrying HTTP client. It returns nil when no
// URL is configured; a nil Notifier is a no-op.
func New(opts Options, logger hclog.Logger) *Notifier {
	if opts.URL == "" {
		return nil
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("notify")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	if opts.RetryMax > 0 {
		retryClient.RetryMax = opts.RetryMax
	}
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	if opts.RetryWait > 0 {
		retryClient.RetryWaitMin = opts.RetryWait
		retryClient.RetryWaitMax = opts.RetryWait
	}
	retryClient.Logger = logger.Named("http")

	return &Notifier{
		url:        opts.URL,
		headers:    opts.Headers,
		httpClient: retryClient.StandardClient(),
		logger:     logger,
		now:        time.Now,
	}
}

// Send posts one notification.
func (n *Notifier) Send(ctx context.Context, payload models.ExportNotification) error {
	if n == nil {
		return nil
	}
	if payload.FinishedAt.IsZero() {
		payload.FinishedAt = n.now().UTC()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	n.logger.Debug("notification sent", "status", payload.Status, "path", payload.Path)
	return nil
}

// Callback returns an after-saving hook reporting a completed export of source.
func (n *Notifier) Callback(source string) exporter.Callback {
	return func(ctx context.Context, exported *exporter.Exported) error {
		if n == nil {
			return nil
		}
		payload := models.ExportNotification{
			Status:    models.StatusCompleted,
			Source:    source,
			Disk:      exported.Disk.Name(),
			Path:      exported.Path,
			SizeBytes: exported.Size,
		}
		if exported.Result != nil {
			payload.Operation = exported.Result.Operation().String()
			payload.ExitCode = exported.Result.ExitCode()
		}
		return n.Send(ctx, payload)
	}
}

// Failure reports a failed run of op on source. Send errors are only logged.
func (n *Notifier) Failure(ctx context.Context, op, source string, exitCode int, cause error) {
	if n == nil {
		return
	}
	payload := models.ExportNotification{
		Status:    models.StatusFailed,
		Operation: op,
		Source:    source,
		ExitCode:  exitCode,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	if err := n.Send(ctx, payload); err != nil {
		n.logger.Warn("failed to send failure notification", "source", source, "error", err)
	}
}

// StatusError indicates the webhook rejected a notification.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned error status: %d", e.StatusCode)
}
