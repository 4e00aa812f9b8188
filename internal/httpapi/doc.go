// Package httpapi serves the read-only JSON status API used by the CLI and
// external dashboards.
package httpapi
