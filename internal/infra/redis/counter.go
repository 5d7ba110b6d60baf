package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curasys/gatekeeper/pkg/logger"
)

// Counter key prefixes. Keys are composite so IP and account windows are
// tracked independently.
const (
	attemptIPPrefix   = "attempt:ip:"
	attemptUserPrefix = "attempt:user:"
)

// AttemptIPKey returns the failure counter key for a client IP.
func AttemptIPKey(ip string) string {
	return attemptIPPrefix + ip
}

// AttemptUserKey returns the failure counter key for an account name.
func AttemptUserKey(username string) string {
	return attemptUserPrefix + strings.ToLower(strings.TrimSpace(username))
}

// CounterStore provides atomic, TTL-windowed counters over the shared store.
// An absent or expired key reads as zero; the first increment creates the
// key and starts a fresh window.
type CounterStore struct {
	client *Client
	log    *logger.Logger
}

// NewCounterStore creates a counter store on top of the shared client.
func NewCounterStore(client *Client) *CounterStore {
	return &CounterStore{
		client: client,
		log:    client.Logger().With("component", "counter_store"),
	}
}

// Increment atomically increments the counter and returns the new count.
// The INCR itself carries the atomicity guarantee; the expiry is attached
// only when this increment created the key, which starts the TTL window.
// On store failure it returns 0 and ErrStoreUnavailable so callers can
// fail open.
func (s *CounterStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	start := time.Now()

	count, err := s.client.client.Incr(ctx, key).Result()
	if err != nil {
		DefaultMetrics.ObserveOperation("counter_incr", time.Since(start), err)
		s.log.Warn("counter increment failed, failing open", "key", key, "error", err)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if count == 1 {
		if err := s.client.client.Expire(ctx, key, ttl).Err(); err != nil {
			// The count survived; a missing TTL only lengthens the window.
			s.log.Warn("counter expiry not set", "key", key, "error", err)
		}
	}

	DefaultMetrics.ObserveOperation("counter_incr", time.Since(start), nil)
	return count, nil
}

// Get returns the current count for a key, or 0 when the key is absent or
// expired. Unknown keys are not an error.
func (s *CounterStore) Get(ctx context.Context, key string) (int64, error) {
	start := time.Now()

	val, err := s.client.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.ObserveOperation("counter_get", time.Since(start), nil)
		return 0, nil
	}
	if err != nil {
		DefaultMetrics.ObserveOperation("counter_get", time.Since(start), err)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter parse %q: %w", key, err)
	}

	DefaultMetrics.ObserveOperation("counter_get", time.Since(start), nil)
	return count, nil
}

// Reset deletes the given counter keys, returning them to zero.
func (s *CounterStore) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	start := time.Now()
	err := s.client.client.Del(ctx, keys...).Err()
	DefaultMetrics.ObserveOperation("counter_reset", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// ExtendWindow refreshes a key's TTL. The brute-force gate uses it when the
// hard threshold is crossed so the lockout holds for its full duration.
func (s *CounterStore) ExtendWindow(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := s.client.client.Expire(ctx, key, ttl).Err()
	DefaultMetrics.ObserveOperation("counter_extend", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// TTL returns the remaining window of a key, used for Retry-After hints.
func (s *CounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}
