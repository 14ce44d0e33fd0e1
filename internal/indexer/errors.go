package indexer

import "errors"

// Error kinds surfaced to the indexer framework. MalformedEvent and
// UnknownPool are recoverable at the handler; everything else propagates so
// the block is retried.
var (
	// ErrMalformedEvent marks a decoded event missing required fields.
	ErrMalformedEvent = errors.New("MALFORMED_EVENT")

	// ErrUnknownPool marks an event referencing a pool that was never
	// indexed; the handler logs and returns success with no state change.
	ErrUnknownPool = errors.New("UNKNOWN_POOL")
)
