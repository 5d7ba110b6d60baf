package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/curasys/gatekeeper/internal/config"
	redisstore "github.com/curasys/gatekeeper/internal/infra/redis"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// SessionValidatorGate enforces session freshness and detects hijacked
// sessions. Each session is bound to the first IP it was seen from; a
// request for the same session from a different IP is treated as a
// suspected hijack and force-logs the user out. Idle sessions past the
// timeout are expired with an explicit reason so the login page can say
// why.
type SessionValidatorGate struct {
	cfg      config.SessionConfig
	sessions *redisstore.SessionStore
	now      func() time.Time
	log      *logger.Logger
}

func NewSessionValidatorGate(cfg config.SessionConfig, sessions *redisstore.SessionStore, log *logger.Logger) *SessionValidatorGate {
	return &SessionValidatorGate{
		cfg:      cfg,
		sessions: sessions,
		now:      time.Now,
		log:      log.With("component", "session_gate"),
	}
}

func (g *SessionValidatorGate) Name() string { return GateSession }

func (g *SessionValidatorGate) Evaluate(ctx context.Context, req *Request) Decision {
	if g.isExempt(req.Path) {
		return Allowed()
	}

	if !req.Principal.Authenticated {
		return Deny(GateSession, ReasonLoginRequired, http.StatusFound)
	}

	record, err := g.sessions.Get(ctx, req.Principal.SessionKey)
	switch {
	case errors.Is(err, redisstore.ErrKeyNotFound):
		return g.bindNewSession(ctx, req)
	case err != nil:
		// Store outage: the signed cookie already authenticated the user,
		// so freshness and binding checks fail open.
		g.log.Warn("session store unavailable, skipping validation",
			"user_id", req.Principal.UserID, "error", err)
		return Allowed()
	}

	if record.Revoked {
		d := Deny(GateSession, ReasonSessionRevoked, http.StatusFound)
		d.ForceLogout = true
		return d
	}

	now := g.now().UTC()

	if now.Sub(record.LastActivityAt) > g.cfg.Timeout {
		d := Deny(GateSession, ReasonSessionTimeout, http.StatusFound)
		d.ForceLogout = true
		return d
	}

	if record.BoundIP != "" && record.BoundIP != req.IP {
		d := Deny(GateSession, ReasonSessionHijack, http.StatusFound)
		d.Severity = "critical"
		d.ForceLogout = true
		d.Detail = map[string]string{
			"bound_ip":    record.BoundIP,
			"observed_ip": req.IP,
		}
		return d
	}

	// BoundIP is first-write-wins: set it only when the record predates
	// binding, never overwrite.
	if record.BoundIP == "" {
		record.BoundIP = req.IP
	}
	record.LastActivityAt = now
	if err := g.sessions.Put(ctx, record); err != nil {
		g.log.Warn("session activity not recorded", "user_id", req.Principal.UserID, "error", err)
	}

	return Allowed()
}

// bindNewSession creates the record the first time a session is seen,
// binding it to the observed IP.
func (g *SessionValidatorGate) bindNewSession(ctx context.Context, req *Request) Decision {
	record := &redisstore.SessionRecord{
		SessionKey:     req.Principal.SessionKey,
		UserID:         req.Principal.UserID,
		BoundIP:        req.IP,
		LastActivityAt: g.now().UTC(),
	}
	if err := g.sessions.Put(ctx, record); err != nil {
		g.log.Warn("session not bound", "user_id", req.Principal.UserID, "error", err)
	}
	return Allowed()
}

func (g *SessionValidatorGate) isExempt(path string) bool {
	for _, p := range g.cfg.ExemptPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
