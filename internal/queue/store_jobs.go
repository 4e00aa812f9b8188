package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, dedup_key, state, external_handle, retry_count, max_retries, next_retry_at, error_history, artifact_path, progress, created_at, updated_at"

// CreateJob inserts a new queued download job for an admitted entry.
func (s *Store) CreateJob(ctx context.Context, dedupKey string, maxRetries int) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO download_jobs (
            dedup_key, state, retry_count, max_retries, created_at, updated_at
        ) VALUES (?, ?, 0, ?, ?, ?)`,
		dedupKey,
		JobQueued,
		maxRetries,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.JobByID(ctx, id)
}

// JobByID fetches a download job by identifier.
func (s *Store) JobByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM download_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJobByDedupKey returns the single non-terminal job for a key, if any.
func (s *Store) ActiveJobByDedupKey(ctx context.Context, key string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM download_jobs
         WHERE dedup_key = ? AND state NOT IN (?, ?, ?)
         ORDER BY id LIMIT 1`,
		key, JobCompleted, JobAbandoned, JobCancelled,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active job: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing download job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	history, err := marshalErrorHistory(job.ErrorHistory)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()
	_, err = s.execWithRetry(
		ctx,
		`UPDATE download_jobs
         SET state = ?, external_handle = ?, retry_count = ?, max_retries = ?,
             next_retry_at = ?, error_history = ?, artifact_path = ?, progress = ?,
             updated_at = ?
         WHERE id = ?`,
		job.State,
		nullableString(job.ExternalHandle),
		job.RetryCount,
		job.MaxRetries,
		nullableTime(job.NextRetryAt),
		nullableString(history),
		nullableString(job.ArtifactPath),
		job.Progress,
		formatTime(job.UpdatedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by state set (or all jobs when no state is
// provided), ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, states ...JobState) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM download_jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(states) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(states))
		args := make([]any, len(states))
		for i, state := range states {
			args[i] = state
		}
		query := baseQuery + ` WHERE state IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobsDueForSubmission returns queued jobs plus retry-scheduled jobs whose
// backoff has elapsed.
func (s *Store) JobsDueForSubmission(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM download_jobs
         WHERE state = ? OR (state = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?)
         ORDER BY created_at, id`,
		JobQueued, JobRetryScheduled, formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// InFlightJobs returns jobs the engine may still be transferring. Used by the
// crash-recovery reconciliation pass and the per-cycle poll.
func (s *Store) InFlightJobs(ctx context.Context) ([]*Job, error) {
	return s.ListJobs(ctx, JobSubmitted, JobDownloading)
}

// JobStats returns a count of jobs grouped by state.
func (s *Store) JobStats(ctx context.Context) (map[JobState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM download_jobs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[JobState]int)
	for rows.Next() {
		var state JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

func marshalErrorHistory(history []JobError) (string, error) {
	if len(history) == 0 {
		return "", nil
	}
	data, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("marshal error history: %w", err)
	}
	return string(data), nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		dedupKey     string
		stateStr     string
		handle       sql.NullString
		retryCount   int
		maxRetries   int
		nextRetryRaw sql.NullString
		historyRaw   sql.NullString
		artifactPath sql.NullString
		progress     sql.NullFloat64
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&dedupKey,
		&stateStr,
		&handle,
		&retryCount,
		&maxRetries,
		&nextRetryRaw,
		&historyRaw,
		&artifactPath,
		&progress,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		DedupKey:       dedupKey,
		State:          JobState(stateStr),
		ExternalHandle: handle.String,
		RetryCount:     retryCount,
		MaxRetries:     maxRetries,
		ArtifactPath:   artifactPath.String,
		Progress:       progress.Float64,
	}
	if nextRetryRaw.Valid {
		if next, err := parseTimeString(nextRetryRaw.String); err == nil {
			job.NextRetryAt = &next
		}
	}
	if historyRaw.Valid && historyRaw.String != "" {
		if err := json.Unmarshal([]byte(historyRaw.String), &job.ErrorHistory); err != nil {
			return nil, fmt.Errorf("unmarshal error history for job %d: %w", id, err)
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
