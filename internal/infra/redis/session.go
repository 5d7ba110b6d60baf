package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curasys/gatekeeper/pkg/logger"
)

const sessionPrefix = "session:"

// SessionRecord is the per-session metadata the validator checks on every
// authenticated request. BoundIP is set once at first sight of the session
// and never overwritten; LastActivityAt moves on every allowed request.
type SessionRecord struct {
	SessionKey     string    `json:"session_key"`
	UserID         string    `json:"user_id"`
	BoundIP        string    `json:"bound_ip,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Revoked marks a session killed by an operator. The record is kept as
	// a tombstone until the signed cookie itself would have expired.
	Revoked bool `json:"revoked,omitempty"`
}

// SessionStore persists session records in the shared store. Records expire
// with the session timeout so an idle session vanishes on its own; the
// validator additionally checks the timestamp to produce an explicit
// session_timeout denial.
type SessionStore struct {
	client *Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewSessionStore creates a session store with the given record TTL.
func NewSessionStore(client *Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		log:    client.Logger().With("component", "session_store"),
	}
}

func sessionRedisKey(sessionKey string) string {
	return sessionPrefix + sessionKey
}

// Get loads a session record. Returns ErrKeyNotFound when the session has
// never been seen or has expired, and ErrStoreUnavailable on transport
// failure.
func (s *SessionStore) Get(ctx context.Context, sessionKey string) (*SessionRecord, error) {
	start := time.Now()

	data, err := s.client.client.Get(ctx, sessionRedisKey(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.ObserveOperation("session_get", time.Since(start), nil)
		return nil, ErrKeyNotFound
	}
	if err != nil {
		DefaultMetrics.ObserveOperation("session_get", time.Since(start), err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("session unmarshal: %w", err)
	}

	DefaultMetrics.ObserveOperation("session_get", time.Since(start), nil)
	return &record, nil
}

// Put writes a session record with the configured TTL, refreshing the
// expiry. Writes are last-writer-wins; the validator's own logic keeps
// BoundIP first-write-wins.
func (s *SessionStore) Put(ctx context.Context, record *SessionRecord) error {
	start := time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("session marshal: %w", err)
	}

	err = s.client.client.Set(ctx, sessionRedisKey(record.SessionKey), data, s.ttl).Err()
	DefaultMetrics.ObserveOperation("session_put", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Revoke tombstones a session so the validator rejects it even though the
// signed cookie is still formally valid. The tombstone reuses the record
// TTL, outliving any cookie it needs to block.
func (s *SessionStore) Revoke(ctx context.Context, sessionKey string) error {
	record, err := s.Get(ctx, sessionKey)
	if errors.Is(err, ErrKeyNotFound) {
		record = &SessionRecord{SessionKey: sessionKey, LastActivityAt: time.Now().UTC()}
	} else if err != nil {
		return err
	}

	record.Revoked = true
	return s.Put(ctx, record)
}

// Delete destroys a session record, as on logout or forced logout.
func (s *SessionStore) Delete(ctx context.Context, sessionKey string) error {
	start := time.Now()

	err := s.client.client.Del(ctx, sessionRedisKey(sessionKey)).Err()
	DefaultMetrics.ObserveOperation("session_delete", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
