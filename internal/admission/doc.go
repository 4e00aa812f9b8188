// Package admission turns gap-detector candidates into durable queue entries.
// Enqueue is idempotent per dedup key; dequeue hands out priority-ordered
// batches whose size the budget throttle may silently cap.
package admission
