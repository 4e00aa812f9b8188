package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stacks/internal/config"
)

const userAgent = "Stacks-Go/0.1.0"

// Service defines the push-notification surface exposed to the pipeline.
type Service interface {
	NotifyBudgetAlert(ctx context.Context, message string) error
	NotifyDownloadAbandoned(ctx context.Context, title, reason string) error
	NotifyReviewRequired(ctx context.Context, title, reason string) error
	NotifyCycleCompleted(ctx context.Context, submitted, completed, failed, abandoned int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		cfg:      cfg,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	cfg      config.Notifications
	client   *http.Client
}

func (n *ntfyService) NotifyBudgetAlert(ctx context.Context, message string) error {
	if !n.cfg.Budget {
		return nil
	}
	data := payload{
		title:    "Stacks - Budget Alert",
		message:  strings.TrimSpace(message),
		tags:     []string{"stacks", "budget", "alert"},
		priority: "urgent",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDownloadAbandoned(ctx context.Context, title, reason string) error {
	if !n.cfg.Downloads {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Download abandoned: %s", title)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\nLast error: %s", message, reason)
	}
	data := payload{
		title:    "Stacks - Download Abandoned",
		message:  message,
		tags:     []string{"stacks", "download", "abandoned"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyReviewRequired(ctx context.Context, title, reason string) error {
	if !n.cfg.Downloads {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Import failed: %s\nManual review required", title)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\nCause: %s", message, reason)
	}
	data := payload{
		title:   "Stacks - Review Required",
		message: message,
		tags:    []string{"stacks", "import", "review"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyCycleCompleted(ctx context.Context, submitted, completed, failed, abandoned int) error {
	if !n.cfg.Cycles {
		return nil
	}
	data := payload{
		title: "Stacks - Cycle Complete",
		message: fmt.Sprintf("Cycle complete: %d submitted, %d completed, %d failed, %d abandoned",
			submitted, completed, failed, abandoned),
		tags: []string{"stacks", "cycle", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Stacks - Test",
		message:  "Notification system test",
		tags:     []string{"stacks", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyBudgetAlert(context.Context, string) error { return nil }

func (noopService) NotifyDownloadAbandoned(context.Context, string, string) error { return nil }

func (noopService) NotifyReviewRequired(context.Context, string, string) error { return nil }

func (noopService) NotifyCycleCompleted(context.Context, int, int, int, int) error { return nil }

func (noopService) TestNotification(context.Context) error { return nil }
