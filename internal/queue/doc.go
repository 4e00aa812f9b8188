// Package queue persists the acquisition pipeline's durable state in SQLite:
// deduplicated queue entries, download jobs with their retry bookkeeping, the
// singleton budget account, and the append-only budget ledger. All lifecycle
// state lives here so the pipeline survives restarts.
package queue
