package testsupport

import (
	"context"
	"testing"
	"time"

	"stacks/internal/config"
	"stacks/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewEntry inserts a queued entry for tests using the provided store.
func NewEntry(t testing.TB, store *queue.Store, dedupKey, title, author string, reason queue.Reason, priority int) *queue.Entry {
	t.Helper()

	entry, err := store.InsertEntry(context.Background(), &queue.Entry{
		DedupKey:     dedupKey,
		Title:        title,
		Author:       author,
		Reason:       reason,
		Priority:     priority,
		State:        queue.EntryQueued,
		DiscoveredAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("store.InsertEntry: %v", err)
	}
	return entry
}

// NewJob inserts a queued download job for tests.
func NewJob(t testing.TB, store *queue.Store, dedupKey string, maxRetries int) *queue.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), dedupKey, maxRetries)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}
