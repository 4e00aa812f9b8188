package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stacks/internal/config"
	"stacks/internal/engine"
	"stacks/internal/logging"
	"stacks/internal/queue"
	"stacks/internal/services"
)

// PollSummary aggregates the outcome of one polling pass over in-flight jobs.
type PollSummary struct {
	Polled    int
	Completed []*queue.Job
	Failed    int
	Abandoned []*queue.Job
	Cancelled []*queue.Job
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// Manager drives admitted entries through the download state machine:
// queued, submitted, downloading, then completed, or failed into
// retry_scheduled until the retry budget is spent and the job is abandoned.
// Every transition is persisted before the next engine call and logged with
// its cause.
type Manager struct {
	store  *queue.Store
	engine engine.Client
	cfg    config.Download
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a download lifecycle manager.
func New(store *queue.Store, engineClient engine.Client, cfg config.Download, logger *slog.Logger, opts ...Option) *Manager {
	manager := &Manager{
		store:  store,
		engine: engineClient,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "download"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager
}

// CreateForEntry creates a queued job for an admitted entry. Re-entrant: if
// an active job already holds the dedup key, that job is returned unchanged
// and nothing is resubmitted.
func (m *Manager) CreateForEntry(ctx context.Context, entry *queue.Entry) (*queue.Job, error) {
	if entry == nil {
		return nil, errors.New("entry is nil")
	}
	existing, err := m.store.ActiveJobByDedupKey(ctx, entry.DedupKey)
	if err != nil {
		return nil, fmt.Errorf("check active job: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	job, err := m.store.CreateJob(ctx, entry.DedupKey, m.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	m.logger.Info("download job created",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldDedupKey, job.DedupKey))
	return job, nil
}

// SubmitJob hands one job to the engine. An immediate adapter failure counts
// against the retry budget and schedules a retry.
func (m *Manager) SubmitJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	entry, err := m.store.EntryByDedupKey(ctx, job.DedupKey)
	if err != nil {
		return fmt.Errorf("load entry for job %d: %w", job.ID, err)
	}
	if entry == nil {
		return m.MarkFailed(ctx, job, services.Wrap(services.ErrNotFound, "download", "submit", "queue entry vanished", nil))
	}

	handle, err := m.engine.Submit(ctx, engine.SubmitRequest{
		DedupKey: entry.DedupKey,
		Title:    entry.Title,
		Author:   entry.Author,
		Series:   entry.Series,
	})
	if err != nil {
		return m.MarkFailed(ctx, job, err)
	}

	fromState := job.State
	job.State = queue.JobSubmitted
	job.ExternalHandle = handle
	job.NextRetryAt = nil
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist submitted job %d: %w", job.ID, err)
	}
	m.logTransition(job, fromState, queue.JobSubmitted, "engine accepted transfer")
	return nil
}

// SubmitDue submits every job whose turn has come: freshly queued jobs plus
// retry-scheduled jobs whose backoff elapsed. Per-job failures are absorbed
// into the retry machinery and never abort the pass.
func (m *Manager) SubmitDue(ctx context.Context) (int, error) {
	jobs, err := m.store.JobsDueForSubmission(ctx, m.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("load due jobs: %w", err)
	}
	submitted := 0
	for _, job := range jobs {
		if err := m.SubmitJob(ctx, job); err != nil {
			m.logger.Warn("job submission failed",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.Error(err))
			continue
		}
		if job.State == queue.JobSubmitted {
			submitted++
		}
	}
	return submitted, ctx.Err()
}

// PollActive polls every in-flight job across a bounded worker pool and
// applies the resulting transitions.
func (m *Manager) PollActive(ctx context.Context) (*PollSummary, error) {
	jobs, err := m.store.InFlightJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load in-flight jobs: %w", err)
	}

	summary := &PollSummary{Polled: len(jobs)}
	if len(jobs) == 0 {
		return summary, nil
	}

	workers := m.cfg.PollWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	type outcome struct {
		job    *queue.Job
		status *engine.StatusInfo
		err    error
	}

	jobCh := make(chan *queue.Job)
	outcomes := make(chan outcome, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				status, err := m.engine.Status(ctx, job.ExternalHandle)
				outcomes <- outcome{job: job, status: status, err: err}
			}
		}()
	}
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
	close(outcomes)

	// Transitions apply on a single goroutine; only the engine calls fan out.
	for result := range outcomes {
		job := result.job
		if result.err != nil {
			// A poll failure says nothing about the transfer itself unless it
			// is permanent. The job stays in flight under its existing handle
			// and the next pass re-polls it; failing it here would resubmit
			// and leave the engine running two transfers for one job.
			if !services.IsPermanent(result.err) {
				m.logger.Warn("status poll failed, keeping job in flight",
					logging.Int64(logging.FieldJobID, job.ID),
					logging.String(logging.FieldDedupKey, job.DedupKey),
					logging.Error(result.err))
				continue
			}
			if err := m.MarkFailed(ctx, job, result.err); err != nil {
				return nil, err
			}
			if job.State == queue.JobAbandoned {
				summary.Abandoned = append(summary.Abandoned, job)
			} else {
				summary.Failed++
			}
			continue
		}

		switch result.status.State {
		case queue.JobCompleted:
			if err := m.MarkCompleted(ctx, job, result.status.ArtifactPath); err != nil {
				return nil, err
			}
			summary.Completed = append(summary.Completed, job)
		case queue.JobFailed:
			cause := services.Wrap(services.ErrExternalTool, "download", "poll", result.status.Message, nil)
			if err := m.MarkFailed(ctx, job, cause); err != nil {
				return nil, err
			}
			if job.State == queue.JobAbandoned {
				summary.Abandoned = append(summary.Abandoned, job)
			} else {
				summary.Failed++
			}
		case queue.JobCancelled:
			if err := m.markCancelled(ctx, job, "engine reported cancellation"); err != nil {
				return nil, err
			}
			summary.Cancelled = append(summary.Cancelled, job)
		default:
			fromState := job.State
			job.State = queue.JobDownloading
			job.Progress = result.status.Progress
			if err := m.store.UpdateJob(ctx, job); err != nil {
				return nil, fmt.Errorf("persist downloading job %d: %w", job.ID, err)
			}
			if fromState != queue.JobDownloading {
				m.logTransition(job, fromState, queue.JobDownloading, "engine transfer in progress")
			}
		}
	}
	return summary, nil
}

// Reconcile re-polls every job left in submitted or downloading after a
// restart, before the control loop resumes. In-flight work is never blindly
// resubmitted.
func (m *Manager) Reconcile(ctx context.Context) (*PollSummary, error) {
	jobs, err := m.store.InFlightJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load in-flight jobs: %w", err)
	}
	if len(jobs) > 0 {
		m.logger.Info("reconciling in-flight jobs after restart",
			logging.Int("jobs", len(jobs)))
	}
	return m.PollActive(ctx)
}

// MarkFailed charges one failure against the job's retry budget. Transient
// causes schedule a bounded-backoff retry; permanent causes or an exhausted
// budget abandon the job and permanently reject its entry.
func (m *Manager) MarkFailed(ctx context.Context, job *queue.Job, cause error) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := m.clock().UTC()
	fromState := job.State
	job.RetryCount++
	message := "unknown failure"
	if cause != nil {
		message = cause.Error()
	}
	job.RecordError(now, message, m.cfg.ErrorHistoryMax)

	if services.IsPermanent(cause) || job.RetryCount >= job.MaxRetries {
		job.State = queue.JobAbandoned
		job.NextRetryAt = nil
		if err := m.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("persist abandoned job %d: %w", job.ID, err)
		}
		m.logTransition(job, fromState, queue.JobAbandoned, message)
		return m.rejectEntry(ctx, job.DedupKey, message)
	}

	delay := Backoff(m.cfg.BackoffBaseHours, m.cfg.BackoffCapHours, job.RetryCount)
	next := now.Add(delay)
	job.State = queue.JobRetryScheduled
	job.NextRetryAt = &next
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist retry-scheduled job %d: %w", job.ID, err)
	}
	m.logTransition(job, fromState, queue.JobRetryScheduled, message)
	m.logger.Info("retry scheduled",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.Int("retry_count", job.RetryCount),
		logging.Duration("backoff", delay),
		logging.Time("next_retry_at", next))
	return nil
}

// MarkCompleted records a finished transfer and its artifact location. The
// completion coordinator takes over from here.
func (m *Manager) MarkCompleted(ctx context.Context, job *queue.Job, artifactPath string) error {
	if job == nil {
		return errors.New("job is nil")
	}
	fromState := job.State
	job.State = queue.JobCompleted
	job.ArtifactPath = artifactPath
	job.Progress = 1
	job.NextRetryAt = nil
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist completed job %d: %w", job.ID, err)
	}
	m.logTransition(job, fromState, queue.JobCompleted, "engine transfer finished")
	return nil
}

// Cancel terminates a job before completion: the engine transfer is aborted,
// the job goes terminal, and the entry row is deleted so the dedup lock
// releases immediately.
func (m *Manager) Cancel(ctx context.Context, dedupKey string) error {
	job, err := m.store.ActiveJobByDedupKey(ctx, dedupKey)
	if err != nil {
		return fmt.Errorf("load active job: %w", err)
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "download", "cancel", "no active job for "+dedupKey, nil)
	}
	if job.ExternalHandle != "" {
		if err := m.engine.Cancel(ctx, job.ExternalHandle); err != nil {
			return fmt.Errorf("cancel engine transfer: %w", err)
		}
	}
	return m.markCancelled(ctx, job, "cancelled by operator")
}

func (m *Manager) markCancelled(ctx context.Context, job *queue.Job, cause string) error {
	fromState := job.State
	job.State = queue.JobCancelled
	job.NextRetryAt = nil
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("persist cancelled job %d: %w", job.ID, err)
	}
	m.logTransition(job, fromState, queue.JobCancelled, cause)

	entry, err := m.store.EntryByDedupKey(ctx, job.DedupKey)
	if err != nil {
		return fmt.Errorf("load entry for cancelled job: %w", err)
	}
	if entry != nil {
		if _, err := m.store.DeleteEntry(ctx, entry.ID); err != nil {
			return fmt.Errorf("release cancelled entry: %w", err)
		}
	}
	return nil
}

// rejectEntry permanently rejects the abandoned job's entry. Rejected rows
// are retained for analytics and keep holding the dedup key.
func (m *Manager) rejectEntry(ctx context.Context, dedupKey, note string) error {
	entry, err := m.store.EntryByDedupKey(ctx, dedupKey)
	if err != nil {
		return fmt.Errorf("load entry for abandoned job: %w", err)
	}
	if entry == nil {
		return nil
	}
	entry.State = queue.EntryRejected
	entry.ReviewNote = note
	if err := m.store.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("reject entry: %w", err)
	}
	return nil
}

func (m *Manager) logTransition(job *queue.Job, from, to queue.JobState, cause string) {
	attrs := append(logging.TransitionAttrs(string(from), string(to), cause),
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldDedupKey, job.DedupKey),
		logging.Int("retry_count", job.RetryCount))
	m.logger.Info("job state transition", logging.Args(attrs...)...)
}
