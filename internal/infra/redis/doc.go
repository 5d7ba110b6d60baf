// Package redis provides the shared, fleet-wide state store behind the
// security pipeline.
//
// Four components live here:
//   - Client: connection management with TLS, pooling, and retry logic
//   - CounterStore: atomic TTL-windowed counters for the brute-force gate
//   - SessionStore: session records with bound-IP and last-activity tracking
//   - GeoCache: the shared IP -> country cache written by the geo resolver
//
// The store is best-effort by design. Every component maps transport
// failures to ErrStoreUnavailable so callers can fail open: availability of
// the care-delivery system outweighs strict enforcement when the store is
// down. The one hard guarantee is CounterStore.Increment, which uses Redis
// INCR and therefore never loses concurrent updates.
package redis
