package collab

import "errors"

// Authentication-boundary errors. Each rejects the connection outright; the
// engine never retries on behalf of the caller.
var (
	ErrFormIDRequired  = errors.New("form id required")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAccessDenied    = errors.New("access denied")
)

// ErrWriteDenied rejects a single update from a read-only connection. The
// connection itself stays open; only the offending message is dropped.
var ErrWriteDenied = errors.New("write denied")
