package logging

import (
	"context"
	"log/slog"

	"stacks/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEntryID is the standardized structured logging key for queue entry identifiers.
	FieldEntryID = "entry_id"
	// FieldJobID is the standardized structured logging key for download job identifiers.
	FieldJobID = "job_id"
	// FieldDedupKey is the standardized structured logging key for normalized candidate identities.
	FieldDedupKey = "dedup_key"
	// FieldCycleID is the standardized structured logging key for control-cycle correlation identifiers.
	FieldCycleID = "cycle_id"
	// FieldEventType labels audit events (state transitions, budget spends).
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested operator follow-up for warnings and errors.
	FieldErrorHint = "error_hint"
	// FieldAlert flags anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldState is the standardized structured logging key for lifecycle states.
	FieldState = "state"
	// FieldFromState labels the originating state of a transition audit event.
	FieldFromState = "from_state"
	// FieldToState labels the resulting state of a transition audit event.
	FieldToState = "to_state"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.EntryIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldEntryID, id))
	}
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldJobID, id))
	}
	if component, ok := services.ComponentFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldComponent, component))
	}
	if cycle, ok := services.CycleIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCycleID, cycle))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
