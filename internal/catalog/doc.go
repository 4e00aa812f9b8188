// Package catalog talks to the external reference catalog that records the
// canonical ordering of works per series and the full backlist per author.
// Failures are tagged so callers can tell a missing series from a flaky
// upstream.
package catalog
