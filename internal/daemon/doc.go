// Package daemon coordinates the long-running stacks process.
//
// It wires configuration, the queue store, and the pipeline controller into a
// single lifecycle with flock-based locking to prevent multiple instances, and
// serves the read-only status API. Orchestration of individual cycle phases
// lives in the pipeline package; the daemon focuses on startup, scheduling,
// and shutdown.
package daemon
