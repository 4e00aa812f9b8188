// Package config loads, defaults, normalizes, and validates the stacks
// configuration file. Every recognized option lives in an explicit typed
// struct; unknown keys are rejected at load time.
package config
