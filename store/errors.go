package store

import "errors"

// Errors returned by Store operations. Neither of these is returned for
// malformed caller input; they only ever surface for state-machine misuse
// or the one explicit rejection reason on Insert/InsertWithoutLog.
var (
	// ErrAlreadyInitialized is returned by Initialize when the Store is not
	// in the UNINITIALIZED state.
	ErrAlreadyInitialized = errors.New("store: already initialized")

	// ErrRetentionRejected is the reason an Insert was rejected for being
	// older than the retention horizon.
	ErrRetentionRejected = errors.New("store: observation older than retention horizon")
)
