package services

import "context"

type contextKey string

const (
	entryIDKey   contextKey = "entry_id"
	jobIDKey     contextKey = "job_id"
	componentKey contextKey = "component"
	cycleIDKey   contextKey = "cycle_id"
)

// WithEntryID attaches a queue entry identifier to the context.
func WithEntryID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, entryIDKey, id)
}

// EntryIDFromContext extracts the queue entry identifier, if present.
func EntryIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(entryIDKey).(int64)
	return id, ok
}

// WithJobID attaches a download job identifier to the context.
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the download job identifier, if present.
func JobIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(jobIDKey).(int64)
	return id, ok
}

// WithComponent attaches a component name to the context.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// ComponentFromContext extracts the component name, if present.
func ComponentFromContext(ctx context.Context) (string, bool) {
	component, ok := ctx.Value(componentKey).(string)
	return component, ok
}

// WithCycleID attaches a control-cycle correlation identifier to the context.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleIDFromContext extracts the control-cycle identifier, if present.
func CycleIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(cycleIDKey).(string)
	return id, ok
}
