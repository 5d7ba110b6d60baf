package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/pkg/logger"
)

func newTestMatrix(roles map[string][]string) *Matrix {
	policy := &config.Policy{Roles: roles}
	return NewMatrix(policy, []string{"en", "fr", "de"}, logger.NewNop())
}

func TestAuthorize_PrefixMatch(t *testing.T) {
	m := newTestMatrix(map[string][]string{
		"DOCTOR": {"/patients/", "/appointments/"},
	})

	tests := []struct {
		role    string
		path    string
		allowed bool
		reason  string
	}{
		{"DOCTOR", "/patients/42/", true, ""},
		{"DOCTOR", "/appointments/", true, ""},
		{"DOCTOR", "/billing/7/", false, ReasonPathNotAllowed},
		{"doctor", "/patients/42/", true, ""}, // role lookup is case-insensitive
		{"JANITOR", "/patients/42/", false, ReasonNoRoleMapping},
		{"JANITOR", "/anything/", false, ReasonNoRoleMapping},
	}

	for _, tt := range tests {
		allowed, reason := m.Authorize(tt.role, false, tt.path)
		assert.Equal(t, tt.allowed, allowed, "%s %s", tt.role, tt.path)
		assert.Equal(t, tt.reason, reason, "%s %s", tt.role, tt.path)
	}
}

func TestAuthorize_Wildcard(t *testing.T) {
	m := newTestMatrix(map[string][]string{
		"ADMIN": {"*"},
	})

	allowed, _ := m.Authorize("ADMIN", false, "/absolutely/anything/")
	assert.True(t, allowed)
}

func TestAuthorize_SuperuserBypassesMatrix(t *testing.T) {
	m := newTestMatrix(map[string][]string{})

	allowed, _ := m.Authorize("UNKNOWN_ROLE", true, "/billing/")
	assert.True(t, allowed)
}

func TestAuthorize_LocaleStripped(t *testing.T) {
	m := newTestMatrix(map[string][]string{
		"NURSE": {"/patients/"},
	})

	allowed, _ := m.Authorize("NURSE", false, "/en/patients/42/")
	assert.True(t, allowed)

	allowed, _ = m.Authorize("NURSE", false, "/de/patients/")
	assert.True(t, allowed)

	// "it" is not a configured locale, so the path does not match.
	allowed, _ = m.Authorize("NURSE", false, "/it/patients/")
	assert.False(t, allowed)
}

func TestStripLocale(t *testing.T) {
	m := newTestMatrix(nil)

	tests := []struct {
		in, want string
	}{
		{"/en/patients/42/", "/patients/42/"},
		{"/fr/billing/", "/billing/"},
		{"/patients/42/", "/patients/42/"},
		{"/enx/patients/", "/enx/patients/"},
		{"/", "/"},
		{"/en", "/en"}, // bare locale with no following segment
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, m.StripLocale(tt.in), "path %q", tt.in)
	}
}

func TestModuleFlags(t *testing.T) {
	flags := NewModuleFlags(&config.Policy{
		Tenants: map[string]config.TenantPolicy{
			"clinic-berlin": {DisabledModules: []string{"/billing/"}},
		},
	})

	assert.False(t, flags.Enabled("clinic-berlin", "/billing/7/"))
	assert.True(t, flags.Enabled("clinic-berlin", "/patients/7/"))
	assert.True(t, flags.Enabled("clinic-paris", "/billing/7/"))
}
