// Package textutil normalizes titles and author names into the canonical
// identities the admission controller deduplicates on.
package textutil
