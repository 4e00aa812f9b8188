package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stacks/internal/config"
	"stacks/internal/gapdetect"
	"stacks/internal/logging"
	"stacks/internal/queue"
)

// Disposition describes what happened to one enqueued candidate.
type Disposition string

const (
	// DispositionCreated means a new queue entry was inserted.
	DispositionCreated Disposition = "created"
	// DispositionDuplicate means the dedup key is already held by a live or
	// resolved entry. Absorbed as a no-op.
	DispositionDuplicate Disposition = "duplicate"
	// DispositionRejected means the key belongs to a permanently rejected
	// entry, retained for analytics. Never re-admitted automatically.
	DispositionRejected Disposition = "rejected"
)

// Result pairs a disposition with the entry now holding the dedup key.
type Result struct {
	Disposition Disposition
	Entry       *queue.Entry
}

// Summary aggregates the dispositions of one enqueue batch.
type Summary struct {
	Created    int
	Duplicates int
	Rejected   int
	Failed     int
}

// Throttle is the budget controller's admission gate. Constrained cycles cap
// the dequeue batch size instead of blocking.
type Throttle interface {
	Constrained() bool
}

// EnqueueOption overrides enqueue behavior for a single candidate.
type EnqueueOption func(*enqueueSettings)

type enqueueSettings struct {
	priority    int
	hasPriority bool
}

// WithPriority overrides the reason-derived priority score.
func WithPriority(priority int) EnqueueOption {
	return func(s *enqueueSettings) {
		s.priority = priority
		s.hasPriority = true
	}
}

// Controller admits gap-detector candidates into the durable queue. The
// in-memory dedup index mirrors the set of entry states that hold the dedup
// lock and is rebuilt from SQLite at startup; all index mutation is
// mutex-serialized.
type Controller struct {
	mu       sync.Mutex
	store    *queue.Store
	cfg      config.Admission
	throttle Throttle
	logger   *slog.Logger
	active   map[string]queue.EntryState
}

// New builds a controller and rebuilds the dedup index from durable state.
func New(ctx context.Context, store *queue.Store, cfg config.Admission, throttle Throttle, logger *slog.Logger) (*Controller, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	active, err := store.ActiveDedupKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild dedup index: %w", err)
	}
	return &Controller{
		store:    store,
		cfg:      cfg,
		throttle: throttle,
		logger:   logging.NewComponentLogger(logger, "admission"),
		active:   active,
	}, nil
}

// Enqueue admits a single candidate. A second enqueue of the same dedup key
// is a no-op returning the existing entry, never an error.
func (c *Controller) Enqueue(ctx context.Context, candidate gapdetect.Candidate, opts ...EnqueueOption) (Result, error) {
	if candidate.DedupKey == "" {
		return Result{}, errors.New("candidate dedup key must not be empty")
	}

	settings := enqueueSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	priority := settings.priority
	if !settings.hasPriority {
		priority = c.priorityFor(candidate.Reason)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.active[candidate.DedupKey]; held {
		existing, err := c.store.EntryByDedupKey(ctx, candidate.DedupKey)
		if err != nil {
			return Result{}, fmt.Errorf("load duplicate entry: %w", err)
		}
		return Result{Disposition: DispositionDuplicate, Entry: existing}, nil
	}

	entry, err := c.store.InsertEntry(ctx, &queue.Entry{
		DedupKey:     candidate.DedupKey,
		Title:        candidate.Title,
		Author:       candidate.Author,
		Series:       candidate.Series,
		Sequence:     candidate.Sequence,
		Reason:       candidate.Reason,
		Priority:     priority,
		State:        queue.EntryQueued,
		DiscoveredAt: time.Now().UTC(),
	})
	if errors.Is(err, queue.ErrDuplicateEntry) {
		// A terminal entry still occupies the unique key.
		existing, lookupErr := c.store.EntryByDedupKey(ctx, candidate.DedupKey)
		if lookupErr != nil {
			return Result{}, fmt.Errorf("load duplicate entry: %w", lookupErr)
		}
		if existing != nil && existing.State == queue.EntryRejected {
			return Result{Disposition: DispositionRejected, Entry: existing}, nil
		}
		return Result{Disposition: DispositionDuplicate, Entry: existing}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("insert entry: %w", err)
	}

	c.active[candidate.DedupKey] = entry.State
	c.logger.Info("candidate admitted to queue",
		logging.String(logging.FieldDedupKey, entry.DedupKey),
		logging.String("reason", string(entry.Reason)),
		logging.Int("priority", entry.Priority))
	return Result{Disposition: DispositionCreated, Entry: entry}, nil
}

// EnqueueAll admits a candidate batch, absorbing duplicates and counting
// per-candidate failures without aborting the batch.
func (c *Controller) EnqueueAll(ctx context.Context, candidates []gapdetect.Candidate) (Summary, error) {
	var summary Summary
	for _, candidate := range candidates {
		result, err := c.Enqueue(ctx, candidate)
		if err != nil {
			summary.Failed++
			c.logger.Warn("enqueue failed",
				logging.String(logging.FieldDedupKey, candidate.DedupKey),
				logging.Error(err))
			continue
		}
		switch result.Disposition {
		case DispositionCreated:
			summary.Created++
		case DispositionRejected:
			summary.Rejected++
		default:
			summary.Duplicates++
		}
	}
	return summary, ctx.Err()
}

// DequeueBatch returns up to n highest-priority queued entries with priority
// at or above floor, marking them admitted. Ties break FIFO on discovery
// time. When the budget throttle is constrained the batch size is silently
// capped, never zeroed and never an error.
func (c *Controller) DequeueBatch(ctx context.Context, n, priorityFloor int) ([]*queue.Entry, error) {
	if n <= 0 {
		n = c.cfg.BatchSize
	}
	effective := n
	if c.throttle != nil && c.throttle.Constrained() {
		effective = constrainedBatchSize(n, c.cfg.ThrottleDivisor)
		if effective < n {
			c.logger.Info("budget constrained, capping dequeue batch",
				logging.Int("requested", n),
				logging.Int("granted", effective))
		}
	}

	entries, err := c.store.DequeueCandidates(ctx, effective, priorityFloor)
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	return entries, nil
}

// Release drops a dedup key from the in-memory index once its entry leaves
// the lock-holding states. The caller is responsible for the durable state
// transition.
func (c *Controller) Release(dedupKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, dedupKey)
}

// Holds reports whether a dedup key is currently locked by a live entry.
func (c *Controller) Holds(dedupKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[dedupKey]
	return ok
}

func (c *Controller) priorityFor(reason queue.Reason) int {
	switch reason {
	case queue.ReasonSeriesGap:
		return c.cfg.SeriesGapPriority
	case queue.ReasonAuthorGap:
		return c.cfg.AuthorGapPriority
	default:
		return c.cfg.AuthorGapPriority
	}
}

// constrainedBatchSize caps a requested batch under budget pressure. Always
// at least one so admission degrades instead of stopping.
func constrainedBatchSize(n, divisor int) int {
	if divisor <= 0 {
		divisor = 4
	}
	capped := n / divisor
	if capped < 1 {
		capped = 1
	}
	return capped
}
