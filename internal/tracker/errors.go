package tracker

import "errors"

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL is returned when a product URL is already tracked.
	ErrDuplicateURL = errors.New("product url already tracked")
	// ErrHTTPStatus is returned by sessions when the page answered with an error status.
	ErrHTTPStatus = errors.New("page returned error status")
	// ErrSessionClosed is returned when fetching through a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrCycleAborted wraps every engine-level failure of an update cycle.
	ErrCycleAborted = errors.New("update cycle aborted")
)
