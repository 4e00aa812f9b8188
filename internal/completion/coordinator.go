package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stacks/internal/importer"
	"stacks/internal/logging"
	"stacks/internal/queue"
)

// Releaser drops a dedup key from the admission controller's in-memory index
// once the durable entry has left the lock-holding states.
type Releaser interface {
	Release(dedupKey string)
}

// Notifier announces items parked for manual review. Delivery failures never
// affect the completion path.
type Notifier interface {
	NotifyReviewRequired(ctx context.Context, title, reason string) error
}

// Coordinator finishes the pipeline: completed artifacts go to the import
// pipeline; acknowledged imports resolve the entry and release its dedup key;
// failed imports park the entry for manual review instead of dropping it.
type Coordinator struct {
	store    *queue.Store
	pipeline importer.Pipeline
	releaser Releaser
	notifier Notifier
	logger   *slog.Logger
}

// New creates a completion coordinator. releaser and notifier may be nil.
func New(store *queue.Store, pipeline importer.Pipeline, releaser Releaser, notifier Notifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		pipeline: pipeline,
		releaser: releaser,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "completion"),
	}
}

// HandleCompleted processes one completed download job end to end.
func (c *Coordinator) HandleCompleted(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	entry, err := c.store.EntryByDedupKey(ctx, job.DedupKey)
	if err != nil {
		return fmt.Errorf("load entry for completed job %d: %w", job.ID, err)
	}
	if entry == nil {
		c.logger.Warn("completed job has no entry, nothing to resolve",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldDedupKey, job.DedupKey))
		return nil
	}

	importErr := c.pipeline.Import(ctx, importer.Request{
		ArtifactPath: job.ArtifactPath,
		DedupKey:     entry.DedupKey,
		Title:        entry.Title,
		Author:       entry.Author,
		Series:       entry.Series,
		Sequence:     entry.Sequence,
	})
	if importErr != nil {
		return c.parkForReview(ctx, entry, importErr)
	}

	entry.State = queue.EntryResolved
	entry.ReviewNote = ""
	if err := c.store.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("resolve entry: %w", err)
	}
	if c.releaser != nil {
		c.releaser.Release(entry.DedupKey)
	}
	c.logger.Info("entry resolved",
		logging.String(logging.FieldDedupKey, entry.DedupKey),
		logging.String("artifact", job.ArtifactPath))
	return nil
}

// parkForReview keeps the entry live under its dedup key but flags it for an
// operator instead of silently dropping the artifact.
func (c *Coordinator) parkForReview(ctx context.Context, entry *queue.Entry, cause error) error {
	entry.State = queue.EntryReview
	entry.ReviewNote = cause.Error()
	if err := c.store.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("park entry for review: %w", err)
	}
	c.logger.Warn("import failed, entry parked for manual review",
		logging.String(logging.FieldDedupKey, entry.DedupKey),
		logging.Error(cause))
	if c.notifier != nil {
		if notifyErr := c.notifier.NotifyReviewRequired(ctx, entry.Title, cause.Error()); notifyErr != nil {
			c.logger.Warn("review notification delivery failed", logging.Error(notifyErr))
		}
	}
	return nil
}

// RetryReview re-queues a reviewed entry after the operator resolved the
// import problem.
func (c *Coordinator) RetryReview(ctx context.Context, dedupKey string) error {
	entry, err := c.store.EntryByDedupKey(ctx, dedupKey)
	if err != nil {
		return fmt.Errorf("load entry: %w", err)
	}
	if entry == nil || entry.State != queue.EntryReview {
		return fmt.Errorf("no entry awaiting review for %q", dedupKey)
	}
	entry.State = queue.EntryQueued
	entry.ReviewNote = ""
	if err := c.store.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("requeue reviewed entry: %w", err)
	}
	c.logger.Info("reviewed entry requeued",
		logging.String(logging.FieldDedupKey, dedupKey))
	return nil
}
