// Package logging wires log/slog with the handlers and attribute helpers the
// pipeline components share: a console handler for interactive use, a JSON
// handler for machine consumption, and standardized field names so transition
// audit events stay greppable.
package logging
