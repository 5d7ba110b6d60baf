package pipeline

import (
	"context"
	"net/http"

	"github.com/curasys/gatekeeper/internal/authz"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// RBACGate authorizes the request path against the role matrix and the
// tenant's module flags. It runs after the session gate, so by the time it
// sees a request the principal is authenticated and trustworthy.
type RBACGate struct {
	matrix *authz.Matrix
	flags  *authz.ModuleFlags
	log    *logger.Logger
}

func NewRBACGate(matrix *authz.Matrix, flags *authz.ModuleFlags, log *logger.Logger) *RBACGate {
	return &RBACGate{
		matrix: matrix,
		flags:  flags,
		log:    log.With("component", "rbac_gate"),
	}
}

func (g *RBACGate) Name() string { return GateRBAC }

func (g *RBACGate) Evaluate(_ context.Context, req *Request) Decision {
	if !req.Principal.Authenticated {
		// Unauthenticated requests only reach here on session-exempt paths,
		// which carry no role to check.
		return Allowed()
	}

	// Module flags outrank the role matrix: a disabled module denies even
	// an administrator.
	path := g.matrix.StripLocale(req.Path)
	if !g.flags.Enabled(req.Principal.TenantID, path) {
		d := Deny(GateRBAC, authz.ReasonModuleDisabled, http.StatusForbidden)
		d.Detail = map[string]string{"tenant_id": req.Principal.TenantID}
		return d
	}

	allowed, reason := g.matrix.Authorize(req.Principal.Role, req.Principal.IsSuperuser, req.Path)
	if !allowed {
		d := Deny(GateRBAC, reason, http.StatusForbidden)
		d.Detail = map[string]string{"role": req.Principal.Role}
		return d
	}

	return Allowed()
}
