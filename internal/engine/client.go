package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stacks/internal/config"
	"stacks/internal/queue"
	"stacks/internal/services"
)

// SubmitRequest describes one transfer handed to the download engine.
type SubmitRequest struct {
	DedupKey string `json:"dedup_key"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Series   string `json:"series,omitempty"`
	Category string `json:"category,omitempty"`
}

// StatusInfo is the engine's view of one transfer, mapped to internal states.
type StatusInfo struct {
	State        queue.JobState
	Progress     float64
	ArtifactPath string
	Message      string
}

// Client defines the download-engine operations the lifecycle manager needs.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, handle string) (*StatusInfo, error)
	Cancel(ctx context.Context, handle string) error
}

// HTTPClient talks JSON to the external download engine.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	category   string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates an engine client from configuration.
func New(cfg config.Engine, opts ...Option) (*HTTPClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "new", "base url required", nil)
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		category:   strings.TrimSpace(cfg.Category),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type submitResponse struct {
	Handle string `json:"handle"`
}

type statusResponse struct {
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	ArtifactPath string  `json:"artifact_path"`
	Message      string  `json:"message"`
}

// Submit starts a transfer and returns the engine's handle for it.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Title) == "" {
		return "", errors.New("submit request title must not be empty")
	}
	if req.Category == "" {
		req.Category = c.category
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	var payload submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/transfers", bytes.NewReader(body), &payload); err != nil {
		return "", err
	}
	if payload.Handle == "" {
		return "", services.Wrap(services.ErrExternalTool, "engine", "submit", "engine returned empty handle", nil)
	}
	return payload.Handle, nil
}

// Status polls one transfer. Unknown or partial engine states map to
// downloading so incomplete adapter information never fails a live job.
func (c *HTTPClient) Status(ctx context.Context, handle string) (*StatusInfo, error) {
	if strings.TrimSpace(handle) == "" {
		return nil, errors.New("handle must not be empty")
	}
	var payload statusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/transfers/"+url.PathEscape(handle), nil, &payload); err != nil {
		return nil, err
	}
	return &StatusInfo{
		State:        MapState(payload.State),
		Progress:     payload.Progress,
		ArtifactPath: payload.ArtifactPath,
		Message:      payload.Message,
	}, nil
}

// Cancel aborts a transfer. Cancelling an already-finished transfer is not an
// error.
func (c *HTTPClient) Cancel(ctx context.Context, handle string) error {
	if strings.TrimSpace(handle) == "" {
		return errors.New("handle must not be empty")
	}
	err := c.do(ctx, http.MethodDelete, "/api/v1/transfers/"+url.PathEscape(handle), nil, nil)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "engine", path, fmt.Sprintf("request timed out (latency=%v)", latency), err)
		}
		return services.Wrap(services.ErrTransient, "engine", path, fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "engine", path, fmt.Sprintf("engine returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "engine", path, fmt.Sprintf("engine returned %d (latency=%v)", resp.StatusCode, latency), nil)
	default:
		return services.Wrap(services.ErrExternalTool, "engine", path, fmt.Sprintf("engine returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalTool, "engine", path, "decode engine response", err)
	}
	return nil
}

// MapState converts an engine-reported state string into the internal job
// state machine. Anything unrecognized maps to downloading, never to failed.
func MapState(external string) queue.JobState {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "completed", "done", "finished", "seeding":
		return queue.JobCompleted
	case "failed", "error":
		return queue.JobFailed
	case "cancelled", "canceled", "aborted":
		return queue.JobCancelled
	default:
		return queue.JobDownloading
	}
}
