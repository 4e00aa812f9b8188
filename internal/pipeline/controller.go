package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"stacks/internal/admission"
	"stacks/internal/budget"
	"stacks/internal/completion"
	"stacks/internal/config"
	"stacks/internal/download"
	"stacks/internal/gapdetect"
	"stacks/internal/importer"
	"stacks/internal/logging"
	"stacks/internal/notifications"
	"stacks/internal/queue"
	"stacks/internal/services"
)

// Deps bundles the collaborators the controller orchestrates. Library and
// Detector may be nil when gap detection is driven externally.
type Deps struct {
	Config     *config.Config
	Store      *queue.Store
	Detector   *gapdetect.Detector
	Library    importer.Library
	Admission  *admission.Controller
	Budget     *budget.Controller
	Downloads  *download.Manager
	Completion *completion.Coordinator
	Notifier   notifications.Service
	Logger     *slog.Logger
}

// CycleStats summarizes one control cycle.
type CycleStats struct {
	CycleID   string
	Enqueued  admission.Summary
	Admitted  int
	Submitted int
	Completed int
	Failed    int
	Abandoned int
	Signal    budget.Signal
}

// Controller is the control-loop orchestrator: budget cycle, detection,
// admission, submission, polling, completion. Cycles are serialized; the
// underlying state machine keeps a cycle that overlaps in-flight work from
// resubmitting it.
type Controller struct {
	mu   sync.Mutex
	deps Deps
	log  *slog.Logger
}

// New validates the dependency set and builds a controller.
func New(deps Deps) (*Controller, error) {
	if deps.Config == nil || deps.Store == nil {
		return nil, errors.New("config and store are required")
	}
	if deps.Admission == nil || deps.Budget == nil || deps.Downloads == nil || deps.Completion == nil {
		return nil, errors.New("admission, budget, downloads, and completion are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(config.Notifications{})
	}
	return &Controller{
		deps: deps,
		log:  logging.NewComponentLogger(deps.Logger, "pipeline"),
	}, nil
}

// Reconcile re-polls jobs left in flight by a previous process before the
// control loop starts, finishing any downloads that completed while we were
// down, and returns admitted entries that never got a job back to queued.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary, err := c.deps.Downloads.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile downloads: %w", err)
	}
	c.settle(ctx, summary)

	requeued, err := c.deps.Store.RequeueStrandedAdmitted(ctx)
	if err != nil {
		return fmt.Errorf("requeue stranded entries: %w", err)
	}
	if requeued > 0 {
		c.log.Info("stranded admitted entries requeued", logging.Int64("requeued", requeued))
	}

	if summary.Polled > 0 {
		c.log.Info("startup reconciliation complete",
			logging.Int("polled", summary.Polled),
			logging.Int("completed", len(summary.Completed)),
			logging.Int("abandoned", len(summary.Abandoned)))
	}
	return nil
}

// EnqueueCandidates snapshots the library, runs gap detection, and admits
// the resulting candidates. Detection failures for individual sources are
// absorbed inside the detector.
func (c *Controller) EnqueueCandidates(ctx context.Context) (admission.Summary, error) {
	if c.deps.Detector == nil || c.deps.Library == nil {
		return admission.Summary{}, errors.New("gap detection is not configured")
	}
	holdings, err := c.deps.Library.Snapshot(ctx)
	if err != nil {
		return admission.Summary{}, fmt.Errorf("library snapshot: %w", err)
	}
	owned := make([]gapdetect.OwnedWork, 0, len(holdings))
	for _, holding := range holdings {
		owned = append(owned, gapdetect.OwnedWork{
			Title:    holding.Title,
			Author:   holding.Author,
			Series:   holding.Series,
			Sequence: holding.Sequence,
		})
	}
	library := gapdetect.NewLibrary(owned)
	candidates := c.deps.Detector.Detect(ctx, library)

	summary, err := c.deps.Admission.EnqueueAll(ctx, candidates)
	if err != nil {
		return summary, err
	}
	c.log.Info("candidates enqueued",
		logging.Int("library_size", library.Size()),
		logging.Int("detected", len(candidates)),
		logging.Int("created", summary.Created),
		logging.Int("duplicates", summary.Duplicates))
	return summary, nil
}

// RunCycle executes one full control cycle. batchSize <= 0 uses the
// configured default.
func (c *Controller) RunCycle(ctx context.Context, batchSize int) (*CycleStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &CycleStats{CycleID: uuid.NewString()}
	ctx = services.WithCycleID(ctx, stats.CycleID)
	log := c.log.With(logging.String(logging.FieldCycleID, stats.CycleID))
	log.Info("control cycle started")

	budgetResult, err := c.deps.Budget.RunCycle(ctx)
	if err != nil {
		// Budget failures alert the operator but never stop acquisition.
		log.Error("budget cycle failed", logging.Error(err))
		stats.Signal = budget.SignalNormal
	} else {
		stats.Signal = budgetResult.Signal
	}

	if c.deps.Detector != nil && c.deps.Library != nil {
		summary, err := c.EnqueueCandidates(ctx)
		if err != nil {
			log.Warn("candidate detection failed, continuing cycle", logging.Error(err))
		}
		stats.Enqueued = summary
	}

	if batchSize <= 0 {
		batchSize = c.deps.Config.Admission.BatchSize
	}
	entries, err := c.deps.Admission.DequeueBatch(ctx, batchSize, c.deps.Config.Admission.PriorityFloor)
	if err != nil {
		return stats, fmt.Errorf("dequeue batch: %w", err)
	}
	stats.Admitted = len(entries)
	for _, entry := range entries {
		if _, err := c.deps.Downloads.CreateForEntry(ctx, entry); err != nil {
			// Put the entry back so the failure is retried next cycle
			// instead of stranding it in admitted.
			log.Warn("job creation failed, returning entry to queue",
				logging.String(logging.FieldDedupKey, entry.DedupKey),
				logging.Error(err))
			entry.State = queue.EntryQueued
			if updateErr := c.deps.Store.UpdateEntry(ctx, entry); updateErr != nil {
				log.Error("requeue after failed job creation",
					logging.String(logging.FieldDedupKey, entry.DedupKey),
					logging.Error(updateErr))
			}
			stats.Admitted--
		}
	}

	submitted, err := c.deps.Downloads.SubmitDue(ctx)
	if err != nil {
		return stats, fmt.Errorf("submit due jobs: %w", err)
	}
	stats.Submitted = submitted

	pollSummary, err := c.deps.Downloads.PollActive(ctx)
	if err != nil {
		return stats, fmt.Errorf("poll active jobs: %w", err)
	}
	stats.Completed = len(pollSummary.Completed)
	stats.Failed = pollSummary.Failed
	stats.Abandoned = len(pollSummary.Abandoned)
	c.settle(ctx, pollSummary)

	if err := c.deps.Notifier.NotifyCycleCompleted(ctx, stats.Submitted, stats.Completed, stats.Failed, stats.Abandoned); err != nil {
		log.Warn("cycle notification delivery failed", logging.Error(err))
	}
	log.Info("control cycle complete",
		logging.Int("admitted", stats.Admitted),
		logging.Int("submitted", stats.Submitted),
		logging.Int("completed", stats.Completed),
		logging.Int("failed", stats.Failed),
		logging.Int("abandoned", stats.Abandoned),
		logging.String("budget_signal", string(stats.Signal)))
	return stats, nil
}

// settle finishes a polling pass: completed jobs go through the completion
// coordinator; abandoned and cancelled jobs drop out of the dedup index.
func (c *Controller) settle(ctx context.Context, summary *download.PollSummary) {
	for _, job := range summary.Completed {
		if err := c.deps.Completion.HandleCompleted(ctx, job); err != nil {
			c.log.Error("completion handling failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(err))
		}
	}
	for _, job := range summary.Abandoned {
		c.deps.Admission.Release(job.DedupKey)
		title := job.DedupKey
		if entry, err := c.deps.Store.EntryByDedupKey(ctx, job.DedupKey); err == nil && entry != nil {
			title = entry.Title
		}
		if err := c.deps.Notifier.NotifyDownloadAbandoned(ctx, title, job.LastError()); err != nil {
			c.log.Warn("abandon notification delivery failed", logging.Error(err))
		}
	}
	for _, job := range summary.Cancelled {
		c.deps.Admission.Release(job.DedupKey)
	}
}

// Cancel aborts an in-flight download and releases its dedup key.
func (c *Controller) Cancel(ctx context.Context, dedupKey string) error {
	if err := c.deps.Downloads.Cancel(ctx, dedupKey); err != nil {
		return err
	}
	c.deps.Admission.Release(dedupKey)
	return nil
}

// BudgetStatus exposes the budget snapshot for the CLI and HTTP API.
func (c *Controller) BudgetStatus(ctx context.Context) (*budget.Status, error) {
	return c.deps.Budget.Status(ctx)
}

// Health exposes queue counts per state.
func (c *Controller) Health(ctx context.Context) (queue.HealthSummary, error) {
	return c.deps.Store.Health(ctx)
}
