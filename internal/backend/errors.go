package backend

import "errors"

// Error kinds recognized by the bus engine and reliable-pubsub loop (§7).
var (
	// ErrBackendUnavailable is transient: the reliable-pubsub loop
	// retries with a 1-second backoff; Publish surfaces it to the caller.
	ErrBackendUnavailable = errors.New("backend: unavailable")

	// ErrBacklogOutOfOrder is internal to GlobalSubscribe's catch-up
	// algorithm: handled via short-sleep retry (up to 4 attempts), then
	// tolerant mode. It should not escape a Backend implementation.
	ErrBacklogOutOfOrder = errors.New("backend: backlog out of order")

	// ErrBackendReadOnly is returned by the bus engine's Publish when
	// IsReadOnly reports the store has failed over to a replica, instead of
	// attempting (and failing) the write. Backend.Publish implementations
	// do not return it themselves.
	ErrBackendReadOnly = errors.New("backend: store is read-only")
)
