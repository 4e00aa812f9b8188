// Package download drives admitted queue entries through the retrying
// download state machine against the external engine adapter. State is
// persisted before every engine call so a crash can be reconciled by
// re-polling rather than resubmitting.
package download
