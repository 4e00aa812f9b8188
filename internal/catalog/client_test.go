package catalog_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"stacks/internal/catalog"
	"stacks/internal/config"
	"stacks/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *catalog.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := catalog.New(config.Catalog{BaseURL: server.URL, APIKey: "token"})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return client
}

func TestSeriesWorksDecodesOrderedList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/series" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("series"); got != "Broken Earth" {
			t.Errorf("series param = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "series": "Broken Earth",
            "works": [
                {"title": "The Fifth Season", "author": "N. K. Jemisin", "series": "Broken Earth", "sequence": 1},
                {"title": "The Obelisk Gate", "author": "N. K. Jemisin", "series": "Broken Earth", "sequence": 2}
            ]
        }`))
	})

	works, err := client.SeriesWorks(context.Background(), "Broken Earth", "N. K. Jemisin")
	if err != nil {
		t.Fatalf("SeriesWorks: %v", err)
	}
	if len(works) != 2 || works[0].Sequence != 1 || works[1].Title != "The Obelisk Gate" {
		t.Fatalf("unexpected works: %+v", works)
	}
}

func TestAuthorWorksRequiresAuthor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("server should not be reached")
	})
	if _, err := client.AuthorWorks(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty author")
	}
}

func TestLookupClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		marker error
	}{
		{"not found is permanent", http.StatusNotFound, services.ErrNotFound},
		{"server error is transient", http.StatusInternalServerError, services.ErrTransient},
		{"rate limit is transient", http.StatusTooManyRequests, services.ErrTransient},
		{"client error is external", http.StatusBadRequest, services.ErrExternalTool},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := client.AuthorWorks(context.Background(), "N. K. Jemisin")
			if !errors.Is(err, tt.marker) {
				t.Fatalf("status %d: expected %v, got %v", tt.status, tt.marker, err)
			}
		})
	}
}

func TestNewRejectsMissingBaseURL(t *testing.T) {
	_, err := catalog.New(config.Catalog{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
