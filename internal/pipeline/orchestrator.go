package pipeline

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/curasys/gatekeeper/internal/audit"
	"github.com/curasys/gatekeeper/internal/config"
	redisstore "github.com/curasys/gatekeeper/internal/infra/redis"
	"github.com/curasys/gatekeeper/internal/metrics"
	"github.com/curasys/gatekeeper/pkg/apierror"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// ChallengeHeader tells the auth frontend to require a CAPTCHA on the
// next attempt.
const ChallengeHeader = "X-Auth-Challenge"

// Orchestrator runs the gate chain over every protected request. Gates
// evaluate in a fixed order and the first denial wins; a denied request
// produces exactly one audit event and one response, and the wrapped
// handler is never invoked.
type Orchestrator struct {
	cfg      *config.Config
	gates    []Gate
	brute    *BruteForceGate
	sessions *redisstore.SessionStore
	sink     audit.Sink
	log      *logger.Logger
}

// NewOrchestrator wires the gate chain. The brute-force gate is passed
// separately because the orchestrator also observes auth endpoint responses
// through it.
func NewOrchestrator(cfg *config.Config, gates []Gate, brute *BruteForceGate, sessions *redisstore.SessionStore, sink audit.Sink, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		gates:    gates,
		brute:    brute,
		sessions: sessions,
		sink:     sink,
		log:      log.With("component", "orchestrator"),
	}
}

// Middleware returns the enforcement handler wrapping next.
func (o *Orchestrator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if matchPath(r.URL.Path, o.cfg.Server.PublicPaths) {
			next.ServeHTTP(w, r)
			return
		}

		req := &Request{
			HTTP:      r,
			IP:        ClientIP(r),
			Path:      r.URL.Path,
			Method:    r.Method,
			Principal: PrincipalFromContext(r.Context()),
		}

		start := time.Now()
		challenge := false
		for _, gate := range o.gates {
			decision := gate.Evaluate(r.Context(), req)
			o.observeDecision(gate.Name(), decision)

			if !decision.Allow {
				metrics.PipelineDuration.Observe(time.Since(start).Seconds())
				o.deny(w, r, req, decision)
				return
			}
			if decision.Challenge {
				challenge = true
			}
		}
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())

		o.writeSecurityHeaders(w)
		if challenge {
			w.Header().Set(ChallengeHeader, "captcha")
		}

		if o.brute != nil && o.brute.IsAuthPath(req.Path) {
			o.serveObserved(w, r, req, next)
		} else {
			next.ServeHTTP(w, r)
		}

		o.emit(r, req, Decision{Allow: true})
	})
}

// deny writes the single denial response and audit event for a request.
func (o *Orchestrator) deny(w http.ResponseWriter, r *http.Request, req *Request, d Decision) {
	if d.ForceLogout {
		o.forceLogout(w, r, req)
	}

	switch {
	case d.Status == http.StatusFound:
		apierror.RedirectToLogin(w, r, o.cfg.Auth.LoginPath, d.Reason, d.Flash)
	case d.Status == http.StatusTooManyRequests:
		apierror.RateLimited("Too many failed attempts, try again later", d.RetryAfter).WriteJSON(w)
	default:
		apierror.Forbidden(denyMessage(d.Reason)).WriteJSON(w)
	}

	o.emit(r, req, d)
}

// forceLogout destroys the server-side session and expires the cookie so
// the browser cannot replay it.
func (o *Orchestrator) forceLogout(w http.ResponseWriter, r *http.Request, req *Request) {
	if req.Principal.SessionKey != "" && o.sessions != nil {
		if err := o.sessions.Delete(r.Context(), req.Principal.SessionKey); err != nil {
			o.log.Warn("forced logout could not delete session",
				"user_id", req.Principal.UserID, "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     o.cfg.Auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// serveObserved wraps the response writer so the authentication outcome is
// visible after the handler runs. A rejected login feeds the failure
// counters; a successful one clears them.
func (o *Orchestrator) serveObserved(w http.ResponseWriter, r *http.Request, req *Request, next http.Handler) {
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	next.ServeHTTP(recorder, r)

	username := o.brute.AttemptedUsername(r)
	switch {
	case recorder.status == http.StatusUnauthorized || recorder.status == http.StatusForbidden:
		o.brute.RecordFailure(r.Context(), req.IP, username)
	case recorder.status >= 200 && recorder.status < 400:
		o.brute.RecordSuccess(r.Context(), req.IP, username)
	}
}

func (o *Orchestrator) observeDecision(gate string, d Decision) {
	outcome := "allow"
	if !d.Allow {
		outcome = "deny"
	}
	metrics.GateDecisionsTotal.WithLabelValues(gate, outcome, d.Reason).Inc()
}

// emit sends the per-request audit event.
func (o *Orchestrator) emit(r *http.Request, req *Request, d Decision) {
	outcome := "allow"
	if !d.Allow {
		outcome = "deny"
	}

	event := audit.NewEvent(outcome)
	event.ActorID = req.Principal.UserID
	event.IP = req.IP
	event.Path = req.Path
	event.Method = req.Method
	event.Gate = d.Gate
	event.Reason = d.Reason
	event.Detail = d.Detail
	switch d.Severity {
	case "critical":
		event.Severity = audit.SeverityCritical
	case "warning":
		event.Severity = audit.SeverityWarning
	}

	o.sink.Emit(r.Context(), event)
}

func (o *Orchestrator) writeSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "same-origin")
}

// denyMessage maps machine reasons to the user-facing message. Redirect
// denials carry their context as flash parameters instead.
func denyMessage(string) string {
	return "You do not have permission to access this resource"
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ClientIP extracts the client address from the request. The upstream
// middleware rewrites RemoteAddr from X-Forwarded-For when proxy headers
// are trusted, so by this point RemoteAddr is authoritative.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// matchPath reports whether the path equals a pattern or falls under a
// pattern ending in a slash.
func matchPath(path string, patterns []string) bool {
	for _, p := range patterns {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
