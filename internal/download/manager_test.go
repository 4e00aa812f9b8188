package download_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stacks/internal/config"
	"stacks/internal/download"
	"stacks/internal/engine"
	"stacks/internal/queue"
	"stacks/internal/services"
	"stacks/internal/testsupport"
)

type fakeEngine struct {
	submitErr  error
	handles    int
	statuses   map[string]*engine.StatusInfo
	statusErr  map[string]error
	cancelled  []string
	submitted  []engine.SubmitRequest
	statusHits map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		statuses:   make(map[string]*engine.StatusInfo),
		statusErr:  make(map[string]error),
		statusHits: make(map[string]int),
	}
}

func (f *fakeEngine) Submit(_ context.Context, req engine.SubmitRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.handles++
	f.submitted = append(f.submitted, req)
	return fmt.Sprintf("tr-%d", f.handles), nil
}

func (f *fakeEngine) Status(_ context.Context, handle string) (*engine.StatusInfo, error) {
	f.statusHits[handle]++
	if err, ok := f.statusErr[handle]; ok {
		return nil, err
	}
	if status, ok := f.statuses[handle]; ok {
		return status, nil
	}
	return &engine.StatusInfo{State: queue.JobDownloading}, nil
}

func (f *fakeEngine) Cancel(_ context.Context, handle string) error {
	f.cancelled = append(f.cancelled, handle)
	return nil
}

var managerNow = time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)

func newManager(t *testing.T, eng engine.Client, opts ...testsupport.ConfigOption) (*download.Manager, *queue.Store, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	manager := download.New(store, eng, cfg.Download, nil,
		download.WithClock(func() time.Time { return managerNow }))
	return manager, store, cfg
}

func TestSubmitTransitionsToSubmitted(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "dune::frank-herbert", "Dune", "Frank Herbert", queue.ReasonSeriesGap, 60)
	job, err := manager.CreateForEntry(ctx, entry)
	if err != nil {
		t.Fatalf("CreateForEntry: %v", err)
	}
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.State != queue.JobSubmitted || job.ExternalHandle == "" {
		t.Fatalf("unexpected job after submit: %+v", job)
	}
	if len(eng.submitted) != 1 || eng.submitted[0].Title != "Dune" {
		t.Fatalf("engine saw %+v", eng.submitted)
	}
}

func TestCreateForEntryIsReentrant(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	first, err := manager.CreateForEntry(ctx, entry)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := manager.CreateForEntry(ctx, entry)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second create made a new job: %d != %d", second.ID, first.ID)
	}
}

func TestTransientFailuresRetryThenAbandon(t *testing.T) {
	eng := newFakeEngine()
	manager, store, cfg := newManager(t, eng, testsupport.WithMaxRetries(3))
	ctx := context.Background()

	testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job := testsupport.NewJob(t, store, "key", cfg.Download.MaxRetries)

	transient := services.Wrap(services.ErrTransient, "engine", "submit", "connection reset", nil)

	var prevDelay time.Duration
	for attempt := 1; attempt <= 2; attempt++ {
		if err := manager.MarkFailed(ctx, job, transient); err != nil {
			t.Fatalf("MarkFailed attempt %d: %v", attempt, err)
		}
		if job.State != queue.JobRetryScheduled {
			t.Fatalf("attempt %d state = %s", attempt, job.State)
		}
		if job.NextRetryAt == nil {
			t.Fatalf("attempt %d missing next_retry_at", attempt)
		}
		delay := job.NextRetryAt.Sub(managerNow)
		if delay < prevDelay {
			t.Fatalf("backoff decreased: %v < %v", delay, prevDelay)
		}
		prevDelay = delay
	}

	// Third failure exhausts max_retries = 3.
	if err := manager.MarkFailed(ctx, job, transient); err != nil {
		t.Fatalf("final MarkFailed: %v", err)
	}
	if job.State != queue.JobAbandoned {
		t.Fatalf("state = %s, want abandoned", job.State)
	}
	if job.RetryCount != 3 {
		t.Fatalf("retry_count = %d, want 3", job.RetryCount)
	}

	entry, err := store.EntryByDedupKey(ctx, "key")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.State != queue.EntryRejected {
		t.Fatalf("entry state = %s, want rejected", entry.State)
	}
}

func TestPermanentFailureAbandonsImmediately(t *testing.T) {
	eng := newFakeEngine()
	manager, store, cfg := newManager(t, eng)
	ctx := context.Background()

	testsupport.NewEntry(t, store, "gone", "Gone", "Author", queue.ReasonAuthorGap, 40)
	job := testsupport.NewJob(t, store, "gone", cfg.Download.MaxRetries)

	notFound := services.Wrap(services.ErrNotFound, "engine", "status", "transfer vanished", nil)
	if err := manager.MarkFailed(ctx, job, notFound); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if job.State != queue.JobAbandoned || job.RetryCount != 1 {
		t.Fatalf("unexpected job: state=%s retry_count=%d", job.State, job.RetryCount)
	}
}

func TestPollUnknownEngineStateStaysDownloading(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job, err := manager.CreateForEntry(ctx, entry)
	if err != nil {
		t.Fatalf("CreateForEntry: %v", err)
	}
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	// The fake returns downloading for unmapped handles, mirroring the
	// adapter rule that unknown states never mean failure.
	eng.statuses[job.ExternalHandle] = &engine.StatusInfo{State: queue.JobDownloading, Progress: 0.4}

	summary, err := manager.PollActive(ctx)
	if err != nil {
		t.Fatalf("PollActive: %v", err)
	}
	if summary.Polled != 1 || summary.Failed != 0 || len(summary.Abandoned) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	reloaded, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.State != queue.JobDownloading || reloaded.Progress != 0.4 {
		t.Fatalf("unexpected job: %+v", reloaded)
	}
}

func TestPollTransientErrorKeepsJobInFlight(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job, err := manager.CreateForEntry(ctx, entry)
	if err != nil {
		t.Fatalf("CreateForEntry: %v", err)
	}
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	firstHandle := job.ExternalHandle
	eng.statusErr[firstHandle] = services.Wrap(services.ErrTransient, "engine", "status", "connection reset", nil)

	summary, err := manager.PollActive(ctx)
	if err != nil {
		t.Fatalf("PollActive: %v", err)
	}
	if summary.Failed != 0 || len(summary.Abandoned) != 0 {
		t.Fatalf("transient poll error counted as failure: %+v", summary)
	}

	reloaded, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.State != queue.JobSubmitted {
		t.Fatalf("state = %s, want submitted", reloaded.State)
	}
	if reloaded.RetryCount != 0 || reloaded.NextRetryAt != nil {
		t.Fatalf("poll blip charged the retry budget: %+v", reloaded)
	}
	if reloaded.ExternalHandle != firstHandle {
		t.Fatalf("handle changed: %s -> %s", firstHandle, reloaded.ExternalHandle)
	}

	// Nothing was demoted, so nothing is due for another submission and the
	// engine never sees a second transfer for this job.
	if _, err := manager.SubmitDue(ctx); err != nil {
		t.Fatalf("SubmitDue: %v", err)
	}
	if len(eng.submitted) != 1 {
		t.Fatalf("engine submits = %d, want 1", len(eng.submitted))
	}

	// Once the engine answers again the same handle keeps progressing.
	delete(eng.statusErr, firstHandle)
	eng.statuses[firstHandle] = &engine.StatusInfo{State: queue.JobDownloading, Progress: 0.2}
	if _, err := manager.PollActive(ctx); err != nil {
		t.Fatalf("second PollActive: %v", err)
	}
	reloaded, err = store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job again: %v", err)
	}
	if reloaded.State != queue.JobDownloading || reloaded.Progress != 0.2 {
		t.Fatalf("unexpected job after recovery: %+v", reloaded)
	}
}

func TestPollPermanentErrorAbandons(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "gone", "Gone", "Author", queue.ReasonAuthorGap, 40)
	job, _ := manager.CreateForEntry(ctx, entry)
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	eng.statusErr[job.ExternalHandle] = services.Wrap(services.ErrNotFound, "engine", "status", "transfer vanished", nil)

	summary, err := manager.PollActive(ctx)
	if err != nil {
		t.Fatalf("PollActive: %v", err)
	}
	if len(summary.Abandoned) != 1 {
		t.Fatalf("abandoned = %d, want 1", len(summary.Abandoned))
	}
	reloaded, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.State != queue.JobAbandoned {
		t.Fatalf("state = %s, want abandoned", reloaded.State)
	}
}

func TestPollCompletionRecordsArtifact(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job, _ := manager.CreateForEntry(ctx, entry)
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	eng.statuses[job.ExternalHandle] = &engine.StatusInfo{
		State:        queue.JobCompleted,
		ArtifactPath: "/downloads/title",
	}

	summary, err := manager.PollActive(ctx)
	if err != nil {
		t.Fatalf("PollActive: %v", err)
	}
	if len(summary.Completed) != 1 {
		t.Fatalf("completed = %d", len(summary.Completed))
	}
	if got := summary.Completed[0]; got.State != queue.JobCompleted || got.ArtifactPath != "/downloads/title" {
		t.Fatalf("unexpected completed job: %+v", got)
	}
}

func TestReconcilePollsWithoutResubmitting(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job, _ := manager.CreateForEntry(ctx, entry)
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	submitsBefore := len(eng.submitted)

	if _, err := manager.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if eng.statusHits[job.ExternalHandle] != 1 {
		t.Fatalf("expected one status poll, got %d", eng.statusHits[job.ExternalHandle])
	}
	if len(eng.submitted) != submitsBefore {
		t.Fatal("reconciliation must not resubmit in-flight jobs")
	}
}

func TestCancelReleasesDedupLock(t *testing.T) {
	eng := newFakeEngine()
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job, _ := manager.CreateForEntry(ctx, entry)
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	if err := manager.Cancel(ctx, "key"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(eng.cancelled) != 1 {
		t.Fatalf("engine cancel calls = %d", len(eng.cancelled))
	}

	reloaded, err := store.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.State != queue.JobCancelled {
		t.Fatalf("job state = %s", reloaded.State)
	}

	gone, err := store.EntryByDedupKey(ctx, "key")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if gone != nil {
		t.Fatal("cancelled entry should be deleted, releasing the dedup key")
	}
}

func TestSubmitFailureCountsAgainstRetryBudget(t *testing.T) {
	eng := newFakeEngine()
	eng.submitErr = services.Wrap(services.ErrTransient, "engine", "submit", "engine busy", nil)
	manager, store, _ := newManager(t, eng)
	ctx := context.Background()

	entry := testsupport.NewEntry(t, store, "key", "Title", "Author", queue.ReasonSeriesGap, 60)
	job, _ := manager.CreateForEntry(ctx, entry)
	if err := manager.SubmitJob(ctx, job); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if job.State != queue.JobRetryScheduled || job.RetryCount != 1 {
		t.Fatalf("unexpected job: state=%s retry_count=%d", job.State, job.RetryCount)
	}
	if job.LastError() == "" {
		t.Fatal("failure should be recorded in error history")
	}
}

func TestSubmitDueSkipsFutureRetries(t *testing.T) {
	eng := newFakeEngine()
	manager, store, cfg := newManager(t, eng)
	ctx := context.Background()

	testsupport.NewEntry(t, store, "due", "Due", "Author", queue.ReasonSeriesGap, 60)
	testsupport.NewEntry(t, store, "later", "Later", "Author", queue.ReasonSeriesGap, 60)

	testsupport.NewJob(t, store, "due", cfg.Download.MaxRetries)
	later := testsupport.NewJob(t, store, "later", cfg.Download.MaxRetries)
	future := managerNow.Add(time.Hour)
	later.State = queue.JobRetryScheduled
	later.NextRetryAt = &future
	if err := store.UpdateJob(ctx, later); err != nil {
		t.Fatalf("update later: %v", err)
	}

	submitted, err := manager.SubmitDue(ctx)
	if err != nil {
		t.Fatalf("SubmitDue: %v", err)
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d, want 1", submitted)
	}
}
