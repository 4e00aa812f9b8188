// Package services provides the shared error taxonomy and context plumbing
// used by the acquisition pipeline components and their external-service
// clients.
package services
