package audit

import (
	"context"
	"sync"

	"github.com/curasys/gatekeeper/internal/metrics"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// LogSink writes events to the structured log, one line per event. This is
// the default sink; log shippers pick the lines up from there.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.With("component", "audit")}
}

func (s *LogSink) Emit(_ context.Context, event Event) {
	attrs := []any{
		"event_id", event.ID,
		"decision", event.Decision,
		"severity", event.Severity,
		"ip", event.IP,
		"path", event.Path,
		"method", event.Method,
	}
	if event.ActorID != "" {
		attrs = append(attrs, "actor_id", event.ActorID)
	}
	if event.Gate != "" {
		attrs = append(attrs, "gate", event.Gate)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	for k, v := range event.Detail {
		attrs = append(attrs, k, v)
	}

	switch event.Severity {
	case SeverityCritical:
		s.log.Error("security event", attrs...)
	case SeverityWarning:
		s.log.Warn("security event", attrs...)
	default:
		s.log.Info("security event", attrs...)
	}

	metrics.AuditEventsTotal.WithLabelValues(event.Decision).Inc()
}

func (s *LogSink) Close() error { return nil }

// AsyncSink decouples event emission from delivery through a bounded
// queue. When the queue is full the event is dropped and counted; request
// latency is never sacrificed for audit completeness.
type AsyncSink struct {
	next  Sink
	queue chan Event
	log   *logger.Logger
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewAsyncSink(next Sink, queueSize int, log *logger.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	s := &AsyncSink{
		next:  next,
		queue: make(chan Event, queueSize),
		log:   log.With("component", "audit_async"),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer s.wg.Done()
	for event := range s.queue {
		s.next.Emit(context.Background(), event)
	}
}

func (s *AsyncSink) Emit(_ context.Context, event Event) {
	// The read lock keeps Close from closing the channel mid-send, which
	// would panic. Events arriving after Close are dropped like a full
	// queue would drop them.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.AuditDroppedTotal.Inc()
		s.log.Warn("audit sink closed, event dropped", "event_id", event.ID, "reason", event.Reason)
		return
	}

	select {
	case s.queue <- event:
	default:
		metrics.AuditDroppedTotal.Inc()
		s.log.Warn("audit queue full, event dropped", "event_id", event.ID, "reason", event.Reason)
	}
}

// Close flushes queued events and stops the worker.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.next.Close()
}
