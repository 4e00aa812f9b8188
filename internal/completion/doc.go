// Package completion hands finished downloads to the library import pipeline
// and settles the queue entry: resolved on acknowledgement, parked for manual
// review on failure.
package completion
