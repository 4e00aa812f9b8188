// Package notifications delivers operator push notifications through ntfy.
// With no topic configured every notification is a silent noop.
package notifications
