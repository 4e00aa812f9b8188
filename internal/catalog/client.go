package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stacks/internal/config"
	"stacks/internal/services"
)

// Work is a single published work known to the reference catalog.
type Work struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Series   string `json:"series"`
	Sequence int    `json:"sequence"`
}

// seriesResponse models the catalog series endpoint payload.
type seriesResponse struct {
	Series string `json:"series"`
	Works  []Work `json:"works"`
}

// authorResponse models the catalog author endpoint payload.
type authorResponse struct {
	Author string `json:"author"`
	Works  []Work `json:"works"`
}

// Lookup defines the reference-catalog queries the gap detector needs.
type Lookup interface {
	SeriesWorks(ctx context.Context, series, author string) ([]Work, error)
	AuthorWorks(ctx context.Context, author string) ([]Work, error)
}

// Client queries the reference catalog over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Lookup = (*Client)(nil)

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

// New creates a catalog client from configuration.
func New(cfg config.Catalog, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "catalog", "new", "base url required", nil)
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
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

// SeriesWorks returns the canonical ordered list of works in a series.
func (c *Client) SeriesWorks(ctx context.Context, series, author string) ([]Work, error) {
	series = strings.TrimSpace(series)
	if series == "" {
		return nil, errors.New("series must not be empty")
	}
	params := url.Values{}
	params.Set("series", series)
	if author = strings.TrimSpace(author); author != "" {
		params.Set("author", author)
	}

	var payload seriesResponse
	if err := c.get(ctx, "/series", params, &payload); err != nil {
		return nil, err
	}
	return payload.Works, nil
}

// AuthorWorks returns the catalog's list of works attributed to an author.
func (c *Client) AuthorWorks(ctx context.Context, author string) ([]Work, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, errors.New("author must not be empty")
	}
	params := url.Values{}
	params.Set("author", author)

	var payload authorResponse
	if err := c.get(ctx, "/author", params, &payload); err != nil {
		return nil, err
	}
	return payload.Works, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse catalog url: %w", err)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "catalog", path, fmt.Sprintf("request timed out (latency=%v)", latency), err)
		}
		return services.Wrap(services.ErrTransient, "catalog", path, fmt.Sprintf("execute request (latency=%v)", latency), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "catalog", path, fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "catalog", path, fmt.Sprintf("catalog returned %d (latency=%v)", resp.StatusCode, latency), nil)
	default:
		return services.Wrap(services.ErrExternalTool, "catalog", path, fmt.Sprintf("catalog returned %d (latency=%v)", resp.StatusCode, latency), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternalTool, "catalog", path, "decode catalog response", err)
	}
	return nil
}
