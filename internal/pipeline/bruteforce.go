package pipeline

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/curasys/gatekeeper/internal/config"
	redisstore "github.com/curasys/gatekeeper/internal/infra/redis"
	"github.com/curasys/gatekeeper/internal/metrics"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// BruteForceGate blocks credential-guessing against the authentication
// endpoints. Failed attempts are counted per client IP and per attempted
// account in independent TTL windows; crossing the soft threshold demands a
// CAPTCHA, crossing the hard threshold locks the key out entirely.
//
// When the shared store is unreachable the gate fails open for lockout
// state but keeps an in-process rate limiter over the auth endpoints, so an
// outage never turns into an unthrottled guessing window.
type BruteForceGate struct {
	cfg            config.BruteForceConfig
	usernameHeader string
	counters       *redisstore.CounterStore
	fallback       *rate.Limiter
	log            *logger.Logger
}

func NewBruteForceGate(cfg config.BruteForceConfig, usernameHeader string, counters *redisstore.CounterStore, log *logger.Logger) *BruteForceGate {
	return &BruteForceGate{
		cfg:            cfg,
		usernameHeader: usernameHeader,
		counters:       counters,
		fallback:       rate.NewLimiter(rate.Limit(cfg.FallbackRPS), cfg.FallbackBurst),
		log:            log.With("component", "brute_force_gate"),
	}
}

func (g *BruteForceGate) Name() string { return GateBruteForce }

// Evaluate checks the lockout state for requests to the auth endpoints.
// All other paths pass through untouched.
func (g *BruteForceGate) Evaluate(ctx context.Context, req *Request) Decision {
	if !g.cfg.Enabled || !g.isAuthPath(req.Path) {
		return Allowed()
	}

	ipKey := redisstore.AttemptIPKey(req.IP)
	ipCount, err := g.counters.Get(ctx, ipKey)
	if err != nil {
		return g.evaluateFallback(req)
	}

	count := ipCount
	worstKey := ipKey
	if username := g.AttemptedUsername(req.HTTP); username != "" {
		userCount, err := g.counters.Get(ctx, redisstore.AttemptUserKey(username))
		if err != nil {
			return g.evaluateFallback(req)
		}
		if userCount > count {
			count = userCount
			worstKey = redisstore.AttemptUserKey(username)
		}
	}

	if count >= g.cfg.HardThreshold {
		d := Deny(GateBruteForce, ReasonLockedOut, http.StatusTooManyRequests)
		if ttl, err := g.counters.TTL(ctx, worstKey); err == nil && ttl > 0 {
			d.RetryAfter = ttl
		}
		return d
	}

	if count >= g.cfg.SoftThreshold {
		d := Allowed()
		d.Gate = GateBruteForce
		d.Reason = ReasonSoftChallenge
		d.Challenge = true
		return d
	}

	return Allowed()
}

// evaluateFallback throttles auth requests in-process while the shared
// store is down. Lockout state cannot be consulted, so known-locked clients
// get through, but only at the fallback rate.
func (g *BruteForceGate) evaluateFallback(req *Request) Decision {
	if g.fallback.Allow() {
		g.log.Warn("lockout store unavailable, allowing via fallback limiter", "ip", req.IP)
		return Allowed()
	}
	return Deny(GateBruteForce, ReasonRateLimited, http.StatusTooManyRequests)
}

// RecordFailure counts one failed authentication attempt against the IP
// and, when known, the attempted account. Crossing the hard threshold
// refreshes the key's TTL so the lockout holds for its full duration.
func (g *BruteForceGate) RecordFailure(ctx context.Context, ip, username string) {
	g.recordFailureKey(ctx, redisstore.AttemptIPKey(ip), "ip")
	if username != "" {
		g.recordFailureKey(ctx, redisstore.AttemptUserKey(username), "user")
	}
}

func (g *BruteForceGate) recordFailureKey(ctx context.Context, key, kind string) {
	count, err := g.counters.Increment(ctx, key, g.cfg.Window)
	if err != nil {
		if !errors.Is(err, redisstore.ErrStoreUnavailable) {
			g.log.Error("failure count not recorded", "key", key, "error", err)
		}
		return
	}

	if count == g.cfg.HardThreshold {
		metrics.LockoutsTotal.WithLabelValues(kind).Inc()
		g.log.Warn("hard lockout threshold reached", "key", key, "count", count)
		if err := g.counters.ExtendWindow(ctx, key, g.cfg.LockoutDuration); err != nil {
			g.log.Warn("lockout window not extended", "key", key, "error", err)
		}
	}
}

// RecordSuccess clears the failure counters after a successful login, so a
// legitimate user who mistyped twice starts clean.
func (g *BruteForceGate) RecordSuccess(ctx context.Context, ip, username string) {
	keys := []string{redisstore.AttemptIPKey(ip)}
	if username != "" {
		keys = append(keys, redisstore.AttemptUserKey(username))
	}
	if err := g.counters.Reset(ctx, keys...); err != nil {
		g.log.Warn("failure counters not reset", "ip", ip, "error", err)
	}
}

// IsAuthPath reports whether responses for this path are observed for
// authentication outcomes.
func (g *BruteForceGate) IsAuthPath(path string) bool {
	return g.cfg.Enabled && g.isAuthPath(path)
}

func (g *BruteForceGate) isAuthPath(path string) bool {
	for _, p := range g.cfg.AuthPaths {
		if path == p {
			return true
		}
	}
	return false
}

// AttemptedUsername extracts the account name a login attempt targeted.
// The auth frontend forwards it in a header; form posts carry it directly.
// The orchestrator uses it when observing auth responses.
func (g *BruteForceGate) AttemptedUsername(r *http.Request) string {
	if r == nil {
		return ""
	}
	if g.usernameHeader != "" {
		if username := r.Header.Get(g.usernameHeader); username != "" {
			return username
		}
	}
	return r.PostFormValue("username")
}
