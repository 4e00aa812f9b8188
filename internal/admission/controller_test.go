package admission_test

import (
	"context"
	"testing"

	"stacks/internal/admission"
	"stacks/internal/gapdetect"
	"stacks/internal/queue"
	"stacks/internal/testsupport"
)

type stubThrottle struct {
	constrained bool
}

func (s *stubThrottle) Constrained() bool { return s.constrained }

func newController(t *testing.T, throttle admission.Throttle) (*admission.Controller, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	controller, err := admission.New(context.Background(), store, cfg.Admission, throttle, nil)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	return controller, store
}

func candidate(key, title string, reason queue.Reason) gapdetect.Candidate {
	return gapdetect.Candidate{DedupKey: key, Title: title, Author: "Author", Reason: reason}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	controller, _ := newController(t, nil)
	ctx := context.Background()

	first, err := controller.Enqueue(ctx, candidate("key-1", "Title", queue.ReasonSeriesGap))
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if first.Disposition != admission.DispositionCreated {
		t.Fatalf("first disposition = %s", first.Disposition)
	}

	second, err := controller.Enqueue(ctx, candidate("key-1", "Title", queue.ReasonSeriesGap))
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if second.Disposition != admission.DispositionDuplicate {
		t.Fatalf("second disposition = %s", second.Disposition)
	}
	if second.Entry == nil || second.Entry.ID != first.Entry.ID {
		t.Fatal("duplicate enqueue should return the existing entry")
	}
}

func TestEnqueuePriorityByReasonAndOverride(t *testing.T) {
	controller, _ := newController(t, nil)
	ctx := context.Background()

	series, err := controller.Enqueue(ctx, candidate("series", "S", queue.ReasonSeriesGap))
	if err != nil {
		t.Fatalf("enqueue series: %v", err)
	}
	author, err := controller.Enqueue(ctx, candidate("author", "A", queue.ReasonAuthorGap))
	if err != nil {
		t.Fatalf("enqueue author: %v", err)
	}
	if series.Entry.Priority <= author.Entry.Priority {
		t.Fatalf("series gap priority %d should exceed author gap priority %d",
			series.Entry.Priority, author.Entry.Priority)
	}

	override, err := controller.Enqueue(ctx, candidate("override", "O", queue.ReasonAuthorGap), admission.WithPriority(95))
	if err != nil {
		t.Fatalf("enqueue override: %v", err)
	}
	if override.Entry.Priority != 95 {
		t.Fatalf("override priority = %d, want 95", override.Entry.Priority)
	}
}

func TestEnqueueAgainstRejectedEntry(t *testing.T) {
	controller, store := newController(t, nil)
	ctx := context.Background()

	created, err := controller.Enqueue(ctx, candidate("gone", "Gone", queue.ReasonSeriesGap))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	created.Entry.State = queue.EntryRejected
	if err := store.UpdateEntry(ctx, created.Entry); err != nil {
		t.Fatalf("reject entry: %v", err)
	}
	controller.Release("gone")

	again, err := controller.Enqueue(ctx, candidate("gone", "Gone", queue.ReasonSeriesGap))
	if err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if again.Disposition != admission.DispositionRejected {
		t.Fatalf("disposition = %s, want rejected", again.Disposition)
	}
}

func TestDedupIndexRebuiltFromDurableState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewEntry(t, store, "persisted", "Persisted", "Author", queue.ReasonSeriesGap, 60)

	controller, err := admission.New(ctx, store, cfg.Admission, nil, nil)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	if !controller.Holds("persisted") {
		t.Fatal("index should contain the persisted active entry")
	}

	result, err := controller.Enqueue(ctx, candidate("persisted", "Persisted", queue.ReasonSeriesGap))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if result.Disposition != admission.DispositionDuplicate {
		t.Fatalf("disposition = %s, want duplicate", result.Disposition)
	}
}

func TestDequeueBatchOrderingAndFloor(t *testing.T) {
	controller, _ := newController(t, nil)
	ctx := context.Background()

	for _, c := range []struct {
		key    string
		reason queue.Reason
	}{
		{"author-1", queue.ReasonAuthorGap},
		{"series-1", queue.ReasonSeriesGap},
		{"author-2", queue.ReasonAuthorGap},
	} {
		if _, err := controller.Enqueue(ctx, candidate(c.key, c.key, c.reason)); err != nil {
			t.Fatalf("enqueue %s: %v", c.key, err)
		}
	}

	entries, err := controller.DequeueBatch(ctx, 2, 0)
	if err != nil {
		t.Fatalf("DequeueBatch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// Series gap outranks author gaps; the author gaps tie and break FIFO.
	if entries[0].DedupKey != "series-1" || entries[1].DedupKey != "author-1" {
		t.Fatalf("unexpected order: %s, %s", entries[0].DedupKey, entries[1].DedupKey)
	}
}

func TestDequeueBatchCappedWhenConstrained(t *testing.T) {
	throttle := &stubThrottle{constrained: true}
	controller, _ := newController(t, throttle)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		key := string(rune('a' + i))
		if _, err := controller.Enqueue(ctx, candidate(key, key, queue.ReasonSeriesGap)); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
	}

	entries, err := controller.DequeueBatch(ctx, 8, 0)
	if err != nil {
		t.Fatalf("constrained dequeue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("constrained batch = %d, want 2", len(entries))
	}

	// Constrained batches never collapse to zero.
	throttleOne := &stubThrottle{constrained: true}
	small, _ := newController(t, throttleOne)
	if _, err := small.Enqueue(ctx, candidate("solo", "Solo", queue.ReasonSeriesGap)); err != nil {
		t.Fatalf("enqueue solo: %v", err)
	}
	got, err := small.DequeueBatch(ctx, 2, 0)
	if err != nil {
		t.Fatalf("small dequeue: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("small constrained batch = %d, want 1", len(got))
	}
}
