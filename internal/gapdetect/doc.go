// Package gapdetect diffs the reference catalog against the current library
// snapshot and emits acquisition candidates with a reason code. Comparison is
// normalized so spelling variants of owned works are never re-emitted.
package gapdetect
