package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDuplicateEntry indicates an insert collided with an existing dedup key.
var ErrDuplicateEntry = errors.New("duplicate queue entry")

const entryColumns = "id, dedup_key, title, author, series, sequence, reason, priority, state, review_note, discovered_at, updated_at"

// InsertEntry persists a new queued entry. The dedup_key unique constraint is
// the durable half of admission's idempotence guarantee.
func (s *Store) InsertEntry(ctx context.Context, entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, errors.New("entry is nil")
	}
	now := time.Now().UTC()
	discovered := entry.DiscoveredAt
	if discovered.IsZero() {
		discovered = now
	}
	state := entry.State
	if state == "" {
		state = EntryQueued
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_entries (
            dedup_key, title, author, series, sequence, reason, priority, state,
            review_note, discovered_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DedupKey,
		entry.Title,
		nullableString(entry.Author),
		nullableString(entry.Series),
		entry.Sequence,
		entry.Reason,
		entry.Priority,
		state,
		nullableString(entry.ReviewNote),
		formatTime(discovered),
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, entry.DedupKey)
		}
		return nil, fmt.Errorf("insert entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.EntryByID(ctx, id)
}

// EntryByID fetches a queue entry by identifier.
func (s *Store) EntryByID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// EntryByDedupKey fetches a queue entry by its normalized identity.
func (s *Store) EntryByDedupKey(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM queue_entries WHERE dedup_key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by key: %w", err)
	}
	return entry, nil
}

// UpdateEntry persists changes to an existing queue entry.
func (s *Store) UpdateEntry(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	entry.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE queue_entries
         SET title = ?, author = ?, series = ?, sequence = ?, reason = ?,
             priority = ?, state = ?, review_note = ?, updated_at = ?
         WHERE id = ?`,
		entry.Title,
		nullableString(entry.Author),
		nullableString(entry.Series),
		entry.Sequence,
		entry.Reason,
		entry.Priority,
		entry.State,
		nullableString(entry.ReviewNote),
		formatTime(entry.UpdatedAt),
		entry.ID,
	)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return nil
}

// DeleteEntry removes a queue entry, releasing its dedup key. Used only for
// external cancellation; resolved and rejected entries are retained.
func (s *Store) DeleteEntry(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_entries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DequeueCandidates returns up to limit queued entries with priority at or
// above floor, ordered by priority descending then discovery time (FIFO on
// ties), and marks them admitted in the same transaction.
func (s *Store) DequeueCandidates(ctx context.Context, limit, floor int) ([]*Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	ctx = ensureContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT `+entryColumns+` FROM queue_entries
         WHERE state = ? AND priority >= ?
         ORDER BY priority DESC, discovered_at ASC, id ASC
         LIMIT ?`,
		EntryQueued, floor, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query dequeue candidates: %w", err)
	}

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := formatTime(time.Now().UTC())
	for _, entry := range entries {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE queue_entries SET state = ?, updated_at = ? WHERE id = ?`,
			EntryAdmitted, now, entry.ID,
		); err != nil {
			return nil, fmt.Errorf("admit entry %d: %w", entry.ID, err)
		}
		entry.State = EntryAdmitted
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue: %w", err)
	}
	return entries, nil
}

// RequeueStrandedAdmitted returns admitted entries with no live download job
// to queued so a later dequeue can pick them up again. Covers a process that
// died, or a job insert that failed, between admission and job creation.
func (s *Store) RequeueStrandedAdmitted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_entries SET state = ?, updated_at = ?
         WHERE state = ?
           AND NOT EXISTS (
               SELECT 1 FROM download_jobs j
               WHERE j.dedup_key = queue_entries.dedup_key
                 AND j.state NOT IN (?, ?, ?)
           )`,
		EntryQueued, formatTime(time.Now().UTC()), EntryAdmitted,
		JobCompleted, JobAbandoned, JobCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stranded admitted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// ListEntries returns entries filtered by state set (or all entries when no
// state is provided), ordered by discovery time.
func (s *Store) ListEntries(ctx context.Context, states ...EntryState) ([]*Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + entryColumns + ` FROM queue_entries`
	orderClause := ` ORDER BY discovered_at, id`

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
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ActiveDedupKeys returns the keys currently holding their dedup lock,
// used to rebuild the admission index after a restart.
func (s *Store) ActiveDedupKeys(ctx context.Context) (map[string]EntryState, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT dedup_key, state FROM queue_entries WHERE state IN (?, ?, ?)`,
		EntryQueued, EntryAdmitted, EntryReview,
	)
	if err != nil {
		return nil, fmt.Errorf("query active keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]EntryState)
	for rows.Next() {
		var key string
		var state EntryState
		if err := rows.Scan(&key, &state); err != nil {
			return nil, err
		}
		keys[key] = state
	}
	return keys, rows.Err()
}

// EntryStats returns a count of entries grouped by state.
func (s *Store) EntryStats(ctx context.Context) (map[EntryState]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM queue_entries GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("entry stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[EntryState]int)
	for rows.Next() {
		var state EntryState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Health aggregates entry state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.EntryStats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for state, count := range stats {
		health.Total += count
		switch state {
		case EntryQueued:
			health.Queued += count
		case EntryAdmitted:
			health.Admitted += count
		case EntryReview:
			health.Review += count
		case EntryResolved:
			health.Resolved += count
		case EntryRejected:
			health.Rejected += count
		}
	}
	return health, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// SQLITE_CONSTRAINT and the UNIQUE extended code.
		if code := coder.Code(); code == 19 || code == 2067 || code == 1555 {
			return true
		}
	}
	return errors.Is(err, ErrDuplicateEntry) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id            int64
		dedupKey      string
		title         string
		author        sql.NullString
		series        sql.NullString
		sequence      sql.NullInt64
		reason        string
		priority      int
		stateStr      string
		reviewNote    sql.NullString
		discoveredRaw sql.NullString
		updatedRaw    sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&dedupKey,
		&title,
		&author,
		&series,
		&sequence,
		&reason,
		&priority,
		&stateStr,
		&reviewNote,
		&discoveredRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:         id,
		DedupKey:   dedupKey,
		Title:      title,
		Author:     author.String,
		Series:     series.String,
		Sequence:   int(sequence.Int64),
		Reason:     Reason(reason),
		Priority:   priority,
		State:      EntryState(stateStr),
		ReviewNote: reviewNote.String,
	}
	if discovered, err := parseTimeString(discoveredRaw.String); err == nil {
		entry.DiscoveredAt = discovered
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}
