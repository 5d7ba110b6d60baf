// Package pipeline is the request-time security enforcement chain. Every
// protected request passes through a fixed sequence of gates; the first gate
// to deny short-circuits the chain, producing exactly one audit event and
// one HTTP response. Business handlers behind the pipeline can assume the
// request was fully vetted.
package pipeline

import (
	"context"
	"net/http"
	"time"
)

// Gate names, used in audit events and metrics labels.
const (
	GateBruteForce = "brute_force"
	GateSession    = "session"
	GateRBAC       = "rbac"
	GateGeo        = "geo"
)

// Deny and challenge reasons.
const (
	ReasonLoginRequired   = "login_required"
	ReasonSessionTimeout  = "session_timeout"
	ReasonSessionHijack   = "session_hijack_suspected"
	ReasonSessionRevoked  = "session_revoked"
	ReasonLockedOut       = "locked_out"
	ReasonRateLimited     = "rate_limited"
	ReasonSoftChallenge   = "soft_challenge"
	ReasonCountryMismatch = "country_mismatch"
)

// Principal is the authenticated identity attached to a request by the
// session-cookie middleware. A zero Principal means the request carries no
// valid session.
type Principal struct {
	Authenticated bool
	UserID        string
	Username      string
	Role          string
	IsSuperuser   bool
	TenantID      string
	TenantCountry string

	// SessionKey identifies the session for hijack detection. It is the
	// token's unique ID, never the raw cookie value.
	SessionKey string
}

// Request is the pipeline's view of an incoming HTTP request.
type Request struct {
	HTTP      *http.Request
	IP        string
	Path      string
	Method    string
	Principal Principal
}

// Decision is a gate's verdict on a request.
type Decision struct {
	Allow    bool
	Gate     string
	Reason   string
	Severity string

	// Status is the HTTP status for a denial. StatusFound means
	// "redirect to the login page" rather than a JSON error.
	Status int

	// Challenge marks an allowed request that must additionally solve a
	// CAPTCHA; surfaced to the auth frontend via a response header.
	Challenge bool

	// ForceLogout destroys the session and clears the cookie alongside the
	// denial response.
	ForceLogout bool

	// RetryAfter hints when a locked-out client may try again.
	RetryAfter time.Duration

	// Detail feeds the audit event and is never shown to the client.
	Detail map[string]string

	// Flash carries user-facing context for a login redirect, rendered by
	// the login view as a flash message (e.g. the detected and expected
	// countries on a geo denial).
	Flash map[string]string
}

// Allowed is the plain pass-through decision.
func Allowed() Decision {
	return Decision{Allow: true}
}

// Deny builds a denial decision.
func Deny(gate, reason string, status int) Decision {
	return Decision{
		Gate:     gate,
		Reason:   reason,
		Status:   status,
		Severity: "warning",
	}
}

// Gate is one stage of the enforcement chain. Evaluate must not write to
// the response; the orchestrator owns the response.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, req *Request) Decision
}
