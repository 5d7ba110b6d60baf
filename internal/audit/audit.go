// Package audit records security events emitted by the enforcement
// pipeline. Every evaluated request produces exactly one event; sinks decide
// where it goes. The pipeline emits through an async sink so a slow sink
// never adds latency to request handling.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Severity of an audit event.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is one security decision. Decision is "allow" or "deny"; Reason is
// the machine-readable cause (e.g. "locked_out", "session_hijack_suspected").
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	ActorID   string            `json:"actor_id,omitempty"`
	IP        string            `json:"ip"`
	Path      string            `json:"path"`
	Method    string            `json:"method"`
	Decision  string            `json:"decision"`
	Reason    string            `json:"reason,omitempty"`
	Gate      string            `json:"gate,omitempty"`
	Severity  string            `json:"severity"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// NewEvent creates an event with a fresh ID and timestamp. Severity
// defaults to info.
func NewEvent(decision string) Event {
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Decision:  decision,
		Severity:  SeverityInfo,
	}
}

// Sink receives audit events. Implementations must be safe for concurrent
// use. Emit must not block request handling; buffering sinks drop under
// sustained backpressure rather than stall.
type Sink interface {
	Emit(ctx context.Context, event Event)
	Close() error
}
