package pipeline_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stacks/internal/admission"
	"stacks/internal/budget"
	"stacks/internal/catalog"
	"stacks/internal/completion"
	"stacks/internal/config"
	"stacks/internal/download"
	"stacks/internal/engine"
	"stacks/internal/gapdetect"
	"stacks/internal/importer"
	"stacks/internal/pipeline"
	"stacks/internal/queue"
	"stacks/internal/testsupport"
)

type fakeCatalog struct {
	series map[string][]catalog.Work
}

func (f *fakeCatalog) SeriesWorks(_ context.Context, series, _ string) ([]catalog.Work, error) {
	return f.series[series], nil
}

func (f *fakeCatalog) AuthorWorks(context.Context, string) ([]catalog.Work, error) {
	return nil, nil
}

type fakeLibrary struct {
	holdings []importer.Holding
}

func (f *fakeLibrary) Snapshot(context.Context) ([]importer.Holding, error) {
	return f.holdings, nil
}

type fakeImports struct {
	acked []importer.Request
}

func (f *fakeImports) Import(_ context.Context, req importer.Request) error {
	f.acked = append(f.acked, req)
	return nil
}

type fakeEngine struct {
	handles  int
	statuses map[string]*engine.StatusInfo
}

func (f *fakeEngine) Submit(context.Context, engine.SubmitRequest) (string, error) {
	f.handles++
	return fmt.Sprintf("tr-%d", f.handles), nil
}

func (f *fakeEngine) Status(_ context.Context, handle string) (*engine.StatusInfo, error) {
	if status, ok := f.statuses[handle]; ok {
		return status, nil
	}
	return &engine.StatusInfo{State: queue.JobDownloading, Progress: 0.2}, nil
}

func (f *fakeEngine) Cancel(context.Context, string) error { return nil }

func fixtureExpiry() time.Time {
	return time.Now().UTC().AddDate(1, 0, 0)
}

type harness struct {
	controller *pipeline.Controller
	store      *queue.Store
	engine     *fakeEngine
	imports    *fakeImports
	cfg        *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	// Seed the budget so the throttle starts unconstrained.
	account, err := store.BudgetAccount(ctx)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	account.Balance = 10000
	account.MembershipExpiry = fixtureExpiry()
	if err := store.UpdateBudgetAccount(ctx, account); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	lookup := &fakeCatalog{series: map[string][]catalog.Work{
		"Broken Earth": {
			{Title: "The Fifth Season", Author: "N. K. Jemisin", Series: "Broken Earth", Sequence: 1},
			{Title: "The Obelisk Gate", Author: "N. K. Jemisin", Series: "Broken Earth", Sequence: 2},
		},
	}}
	library := &fakeLibrary{holdings: []importer.Holding{
		{Title: "The Fifth Season", Author: "N. K. Jemisin", Series: "Broken Earth", Sequence: 1},
	}}
	eng := &fakeEngine{statuses: make(map[string]*engine.StatusInfo)}
	imports := &fakeImports{}

	admissionController, err := admission.New(ctx, store, cfg.Admission, nil, nil)
	if err != nil {
		t.Fatalf("admission.New: %v", err)
	}
	budgetController := budget.New(store, cfg.Budget, nil, nil)
	downloads := download.New(store, eng, cfg.Download, nil)
	coordinator := completion.New(store, imports, admissionController, nil, nil)

	controller, err := pipeline.New(pipeline.Deps{
		Config:     cfg,
		Store:      store,
		Detector:   gapdetect.New(lookup, nil),
		Library:    library,
		Admission:  admissionController,
		Budget:     budgetController,
		Downloads:  downloads,
		Completion: coordinator,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return &harness{controller: controller, store: store, engine: eng, imports: imports, cfg: cfg}
}

func TestRunCycleDetectsAdmitsAndSubmits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stats, err := h.controller.RunCycle(ctx, 0)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if stats.Enqueued.Created != 1 {
		t.Fatalf("created = %d, want 1", stats.Enqueued.Created)
	}
	if stats.Admitted != 1 || stats.Submitted != 1 {
		t.Fatalf("admitted = %d submitted = %d", stats.Admitted, stats.Submitted)
	}

	entry, err := h.store.EntryByDedupKey(ctx, "obelisk-gate::n-k-jemisin")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry == nil || entry.State != queue.EntryAdmitted {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestSecondCycleDoesNotResubmitInFlightWork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.controller.RunCycle(ctx, 0); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	submitsAfterFirst := h.engine.handles

	stats, err := h.controller.RunCycle(ctx, 0)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if h.engine.handles != submitsAfterFirst {
		t.Fatalf("in-flight job resubmitted: %d engine submits after second cycle", h.engine.handles)
	}
	if stats.Enqueued.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1 (candidate re-detected)", stats.Enqueued.Duplicates)
	}
}

func TestCompletedDownloadFlowsThroughImportToResolved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.controller.RunCycle(ctx, 0); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	h.engine.statuses["tr-1"] = &engine.StatusInfo{
		State:        queue.JobCompleted,
		ArtifactPath: "/downloads/obelisk-gate",
	}

	stats, err := h.controller.RunCycle(ctx, 0)
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.Completed != 1 {
		t.Fatalf("completed = %d, want 1", stats.Completed)
	}
	if len(h.imports.acked) != 1 || h.imports.acked[0].ArtifactPath != "/downloads/obelisk-gate" {
		t.Fatalf("unexpected imports: %+v", h.imports.acked)
	}

	entry, err := h.store.EntryByDedupKey(ctx, "obelisk-gate::n-k-jemisin")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.State != queue.EntryResolved {
		t.Fatalf("entry state = %s, want resolved", entry.State)
	}
}

func TestReconcileRequeuesEntriesAdmittedWithoutJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// An entry left in admitted with no job, as after a crash between
	// admission and job creation.
	if _, err := h.store.InsertEntry(ctx, &queue.Entry{
		DedupKey: "orphan::author",
		Title:    "Orphan",
		Author:   "Author",
		Reason:   queue.ReasonAuthorGap,
		Priority: 40,
		State:    queue.EntryAdmitted,
	}); err != nil {
		t.Fatalf("insert entry: %v", err)
	}

	if err := h.controller.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	entry, err := h.store.EntryByDedupKey(ctx, "orphan::author")
	if err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.State != queue.EntryQueued {
		t.Fatalf("entry state = %s, want queued after reconcile", entry.State)
	}

	// The next cycle admits it again and it reaches the engine.
	if _, err := h.controller.RunCycle(ctx, 0); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	job, err := h.store.ActiveJobByDedupKey(ctx, "orphan::author")
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if job == nil || job.State != queue.JobSubmitted {
		t.Fatalf("unexpected job after recovery cycle: %+v", job)
	}
}

func TestReconcileFinishesWorkCompletedWhileDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.controller.RunCycle(ctx, 0); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	h.engine.statuses["tr-1"] = &engine.StatusInfo{
		State:        queue.JobCompleted,
		ArtifactPath: "/downloads/obelisk-gate",
	}

	// Simulates a restart: reconcile instead of a full cycle.
	if err := h.controller.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(h.imports.acked) != 1 {
		t.Fatalf("imports after reconcile = %d, want 1", len(h.imports.acked))
	}
}
