package queue

import (
	"strings"
	"time"
)

// EntryState represents the lifecycle of a queue entry.
type EntryState string

const (
	EntryQueued   EntryState = "queued"
	EntryAdmitted EntryState = "admitted"
	EntryReview   EntryState = "review"
	EntryResolved EntryState = "resolved"
	EntryRejected EntryState = "rejected"
)

var allEntryStates = []EntryState{
	EntryQueued,
	EntryAdmitted,
	EntryReview,
	EntryResolved,
	EntryRejected,
}

var entryStateSet = func() map[EntryState]struct{} {
	set := make(map[EntryState]struct{}, len(allEntryStates))
	for _, state := range allEntryStates {
		set[state] = struct{}{}
	}
	return set
}()

// activeEntryStates hold the dedup lock: a candidate with a key in one of
// these states cannot be enqueued again.
var activeEntryStates = map[EntryState]struct{}{
	EntryQueued:   {},
	EntryAdmitted: {},
	EntryReview:   {},
}

// ParseEntryState converts a string into a known EntryState.
func ParseEntryState(value string) (EntryState, bool) {
	normalized := EntryState(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := entryStateSet[normalized]
	return normalized, ok
}

// IsActive reports whether the entry still holds its dedup lock.
func (s EntryState) IsActive() bool {
	_, ok := activeEntryStates[s]
	return ok
}

// IsTerminal reports whether the entry has reached a final disposition.
func (s EntryState) IsTerminal() bool {
	return s == EntryResolved || s == EntryRejected
}

// Reason records why the gap detector emitted a candidate.
type Reason string

const (
	ReasonSeriesGap Reason = "series_gap"
	ReasonAuthorGap Reason = "author_gap"
)

// Entry represents a deduplicated queue entry persisted in SQLite.
// At most one entry exists per dedup key at any time.
type Entry struct {
	ID           int64
	DedupKey     string
	Title        string
	Author       string
	Series       string
	Sequence     int
	Reason       Reason
	Priority     int
	State        EntryState
	ReviewNote   string
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// JobState represents the download lifecycle state machine.
type JobState string

const (
	JobQueued         JobState = "queued"
	JobSubmitted      JobState = "submitted"
	JobDownloading    JobState = "downloading"
	JobCompleted      JobState = "completed"
	JobFailed         JobState = "failed"
	JobRetryScheduled JobState = "retry_scheduled"
	JobAbandoned      JobState = "abandoned"
	JobCancelled      JobState = "cancelled"
)

var allJobStates = []JobState{
	JobQueued,
	JobSubmitted,
	JobDownloading,
	JobCompleted,
	JobFailed,
	JobRetryScheduled,
	JobAbandoned,
	JobCancelled,
}

var jobStateSet = func() map[JobState]struct{} {
	set := make(map[JobState]struct{}, len(allJobStates))
	for _, state := range allJobStates {
		set[state] = struct{}{}
	}
	return set
}()

// inFlightJobStates are states where the external engine may hold a transfer
// and must be re-polled after a restart, never blindly resubmitted.
var inFlightJobStates = map[JobState]struct{}{
	JobSubmitted:   {},
	JobDownloading: {},
}

// ParseJobState converts a string into a known JobState.
func ParseJobState(value string) (JobState, bool) {
	normalized := JobState(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStateSet[normalized]
	return normalized, ok
}

// IsInFlight reports whether the engine may still be working on the job.
func (s JobState) IsInFlight() bool {
	_, ok := inFlightJobStates[s]
	return ok
}

// IsTerminal reports whether the job can never transition again.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobAbandoned || s == JobCancelled
}

// JobError is one bounded-retention error history record.
type JobError struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Job represents one download attempt chain for a queue entry. Exactly one
// non-terminal job exists per dedup key.
type Job struct {
	ID             int64
	DedupKey       string
	State          JobState
	ExternalHandle string
	RetryCount     int
	MaxRetries     int
	NextRetryAt    *time.Time
	ErrorHistory   []JobError
	ArtifactPath   string
	Progress       float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecordError appends to the job's rolling error history, trimming to limit.
func (j *Job) RecordError(at time.Time, message string, limit int) {
	j.ErrorHistory = append(j.ErrorHistory, JobError{At: at.UTC(), Message: message})
	if limit > 0 && len(j.ErrorHistory) > limit {
		j.ErrorHistory = j.ErrorHistory[len(j.ErrorHistory)-limit:]
	}
}

// LastError returns the most recent error message, if any.
func (j *Job) LastError() string {
	if len(j.ErrorHistory) == 0 {
		return ""
	}
	return j.ErrorHistory[len(j.ErrorHistory)-1].Message
}

// Account is the singleton budget account. Balance is denominated in points.
type Account struct {
	Balance          int64
	MembershipExpiry time.Time
	EarnRate         float64
	UpdatedAt        time.Time
}

// MembershipDaysRemaining reports whole days until membership expiry,
// clamped at zero.
func (a Account) MembershipDaysRemaining(now time.Time) int {
	remaining := a.MembershipExpiry.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// LedgerKind distinguishes the two voluntary budget spends.
type LedgerKind string

const (
	LedgerRenewal    LedgerKind = "renewal"
	LedgerConversion LedgerKind = "conversion"
)

// LedgerEntry is one append-only audit record of a budget spend.
type LedgerEntry struct {
	ID               int64
	CreatedAt        time.Time
	Kind             LedgerKind
	Amount           int64
	ResultingBalance int64
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total    int
	Queued   int
	Admitted int
	Review   int
	Resolved int
	Rejected int
}
