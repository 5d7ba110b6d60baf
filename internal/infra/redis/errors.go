package redis

import "errors"

// Redis-specific errors.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("redis: key not found")

	// ErrStoreUnavailable is returned when the shared store cannot be
	// reached. Gates treat it as "no data" and fail open.
	ErrStoreUnavailable = errors.New("redis: store unavailable")
)
