// Package engine adapts the external download engine behind a small
// Submit/Status/Cancel interface and maps its transfer states onto the
// internal job state machine.
package engine
