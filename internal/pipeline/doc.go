// Package pipeline wires the acquisition components into the periodic
// control loop: budget cycle, gap detection, admission, download lifecycle,
// completion.
package pipeline
