// Package budget implements the hysteresis controller over the tracker's
// bonus-point account: membership renewal, buffer preservation, surplus
// conversion at the hard cap, and the throttle signal admission consults.
package budget
