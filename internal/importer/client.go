package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"stacks/internal/config"
	"stacks/internal/services"
)

// Request carries the artifact location plus the metadata the library import
// pipeline needs to shelve it.
type Request struct {
	ArtifactPath string `json:"artifact_path"`
	DedupKey     string `json:"dedup_key"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Series       string `json:"series,omitempty"`
	Sequence     int    `json:"sequence,omitempty"`
}

// Pipeline is the import boundary the completion coordinator calls. A nil
// error means the pipeline acknowledged the import.
type Pipeline interface {
	Import(ctx context.Context, req Request) error
}

// Holding is one work currently shelved in the library.
type Holding struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Series   string `json:"series,omitempty"`
	Sequence int    `json:"sequence,omitempty"`
}

// Library exposes the current collection snapshot the gap detector diffs
// against.
type Library interface {
	Snapshot(ctx context.Context) ([]Holding, error)
}

// Client hands artifacts to the import pipeline over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var (
	_ Pipeline = (*Client)(nil)
	_ Library  = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates an importer client from configuration.
func New(cfg config.Importer, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "importer", "new", "base url required", nil)
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Import submits one artifact and waits for the pipeline's acknowledgement.
func (c *Client) Import(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.ArtifactPath) == "" {
		return errors.New("artifact path must not be empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal import request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/imports", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", c.apiKey)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	latency := time.Since(requestStart)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "importer", "import", fmt.Sprintf("request timed out (latency=%v)", latency), err)
		}
		return services.Wrap(services.ErrTransient, "importer", "import", fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "importer", "import", fmt.Sprintf("pipeline returned %d (latency=%v)", resp.StatusCode, latency), nil)
	default:
		return services.Wrap(services.ErrExternalTool, "importer", "import", fmt.Sprintf("pipeline returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}
}

// Snapshot fetches the library's current holdings.
func (c *Client) Snapshot(ctx context.Context) ([]Holding, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/library", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "importer", "snapshot", "request timed out", err)
		}
		return nil, services.Wrap(services.ErrTransient, "importer", "snapshot", "execute request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		marker := services.ErrExternalTool
		if resp.StatusCode >= 500 {
			marker = services.ErrTransient
		}
		return nil, services.Wrap(marker, "importer", "snapshot", fmt.Sprintf("library returned %d", resp.StatusCode), nil)
	}

	var payload struct {
		Holdings []Holding `json:"holdings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "importer", "snapshot", "decode library response", err)
	}
	return payload.Holdings, nil
}
