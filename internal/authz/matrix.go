// Package authz implements role-based path authorization: a static
// role -> path-prefix matrix loaded once at startup, plus per-tenant module
// enablement flags. Business handlers never re-check roles; they trust the
// pipeline's decision.
package authz

import (
	"strings"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// Deny reasons surfaced to the audit trail.
const (
	ReasonNoRoleMapping  = "no_role_mapping"
	ReasonPathNotAllowed = "path_not_allowed"
	ReasonModuleDisabled = "module_disabled"
)

// Wildcard grants a role every path.
const Wildcard = "*"

// Matrix is the immutable role -> allowed-path-prefix mapping.
type Matrix struct {
	roles          map[string][]string
	localePrefixes map[string]bool
	log            *logger.Logger
}

// NewMatrix builds the matrix from the loaded policy. localePrefixes are
// the language codes stripped from the front of a path before matching.
func NewMatrix(policy *config.Policy, localePrefixes []string, log *logger.Logger) *Matrix {
	locales := make(map[string]bool, len(localePrefixes))
	for _, code := range localePrefixes {
		locales[strings.ToLower(code)] = true
	}

	roles := make(map[string][]string, len(policy.Roles))
	for role, prefixes := range policy.Roles {
		roles[strings.ToUpper(role)] = prefixes
	}

	return &Matrix{
		roles:          roles,
		localePrefixes: locales,
		log:            log.With("component", "rbac_matrix"),
	}
}

// Authorize reports whether the role may access the path and, on denial,
// why. A role with no matrix entry is a configuration error and always
// denies; authorization never defaults to allow.
func (m *Matrix) Authorize(role string, isSuperuser bool, path string) (bool, string) {
	if isSuperuser {
		return true, ""
	}

	prefixes, ok := m.roles[strings.ToUpper(role)]
	if !ok {
		m.log.Error("role has no matrix entry, denying", "role", role, "path", path)
		return false, ReasonNoRoleMapping
	}

	stripped := m.StripLocale(path)
	for _, prefix := range prefixes {
		if prefix == Wildcard {
			return true, ""
		}
		if strings.HasPrefix(stripped, prefix) {
			return true, ""
		}
	}

	return false, ReasonPathNotAllowed
}

// StripLocale removes a leading language-code segment from the path:
// /en/patients/42/ -> /patients/42/. Paths without a locale prefix pass
// through unchanged.
func (m *Matrix) StripLocale(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	segment, rest, found := strings.Cut(trimmed, "/")
	if !found {
		return path
	}
	if m.localePrefixes[strings.ToLower(segment)] {
		return "/" + rest
	}
	return path
}

// ModuleFlags holds the per-tenant module enablement overrides. A module
// disabled for a tenant denies every request under its prefix regardless
// of the requester's role.
type ModuleFlags struct {
	disabled map[string][]string // tenant ID -> disabled path prefixes
}

// NewModuleFlags builds the flags from the loaded policy.
func NewModuleFlags(policy *config.Policy) *ModuleFlags {
	disabled := make(map[string][]string, len(policy.Tenants))
	for tenantID, tenantPolicy := range policy.Tenants {
		disabled[tenantID] = tenantPolicy.DisabledModules
	}
	return &ModuleFlags{disabled: disabled}
}

// Enabled reports whether the path's module is enabled for the tenant.
// Unknown tenants have no overrides, so everything is enabled.
func (f *ModuleFlags) Enabled(tenantID, path string) bool {
	for _, prefix := range f.disabled[tenantID] {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
