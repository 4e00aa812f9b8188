package completion_test

import (
	"context"
	"errors"
	"testing"

	"stacks/internal/completion"
	"stacks/internal/importer"
	"stacks/internal/queue"
	"stacks/internal/testsupport"
)

type fakePipeline struct {
	err      error
	requests []importer.Request
}

func (f *fakePipeline) Import(_ context.Context, req importer.Request) error {
	f.requests = append(f.requests, req)
	return f.err
}

type fakeReleaser struct {
	released []string
}

func (f *fakeReleaser) Release(dedupKey string) {
	f.released = append(f.released, dedupKey)
}

type fakeNotifier struct {
	reviews []string
}

func (f *fakeNotifier) NotifyReviewRequired(_ context.Context, title, _ string) error {
	f.reviews = append(f.reviews, title)
	return nil
}

func TestHandleCompletedResolvesAndReleases(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job := testsupport.NewJob(t, store, "key", 3)
	job.State = queue.JobCompleted
	job.ArtifactPath = "/downloads/title"
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("update job: %v", err)
	}

	pipeline := &fakePipeline{}
	releaser := &fakeReleaser{}
	coordinator := completion.New(store, pipeline, releaser, nil, nil)

	if err := coordinator.HandleCompleted(ctx, job); err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}
	if len(pipeline.requests) != 1 || pipeline.requests[0].ArtifactPath != "/downloads/title" {
		t.Fatalf("unexpected import requests: %+v", pipeline.requests)
	}

	entry, err := store.EntryByDedupKey(ctx, "key")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.State != queue.EntryResolved {
		t.Fatalf("entry state = %s, want resolved", entry.State)
	}
	if len(releaser.released) != 1 || releaser.released[0] != "key" {
		t.Fatalf("dedup key not released: %v", releaser.released)
	}
}

func TestImportFailureParksForReview(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job := testsupport.NewJob(t, store, "key", 3)
	job.ArtifactPath = "/downloads/title"

	pipeline := &fakePipeline{err: errors.New("metadata mismatch")}
	releaser := &fakeReleaser{}
	notifier := &fakeNotifier{}
	coordinator := completion.New(store, pipeline, releaser, notifier, nil)

	if err := coordinator.HandleCompleted(ctx, job); err != nil {
		t.Fatalf("HandleCompleted: %v", err)
	}

	entry, err := store.EntryByDedupKey(ctx, "key")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.State != queue.EntryReview {
		t.Fatalf("entry state = %s, want review", entry.State)
	}
	if entry.ReviewNote == "" {
		t.Fatal("review note should carry the import failure")
	}
	if len(releaser.released) != 0 {
		t.Fatal("dedup key must stay held while under review")
	}
	if len(notifier.reviews) != 1 {
		t.Fatalf("review notifications = %d", len(notifier.reviews))
	}
}

func TestRetryReviewRequeuesEntry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	entry.State = queue.EntryReview
	entry.ReviewNote = "metadata mismatch"
	if err := store.UpdateEntry(ctx, entry); err != nil {
		t.Fatalf("park entry: %v", err)
	}

	coordinator := completion.New(store, &fakePipeline{}, nil, nil, nil)
	if err := coordinator.RetryReview(ctx, "key"); err != nil {
		t.Fatalf("RetryReview: %v", err)
	}

	reloaded, err := store.EntryByDedupKey(ctx, "key")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if reloaded.State != queue.EntryQueued || reloaded.ReviewNote != "" {
		t.Fatalf("unexpected entry: %+v", reloaded)
	}

	if err := coordinator.RetryReview(ctx, "missing"); err == nil {
		t.Fatal("retrying a non-review entry must fail")
	}
}
