package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gatekeeper", cfg.App.Name)
	assert.Equal(t, int64(3), cfg.BruteForce.SoftThreshold)
	assert.Equal(t, int64(5), cfg.BruteForce.HardThreshold)
	assert.Equal(t, 300*time.Second, cfg.BruteForce.LockoutDuration)
	assert.Equal(t, 3600*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 24*time.Hour, cfg.Geo.CacheTTL)
	assert.Len(t, cfg.Geo.Providers, 3)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("BRUTE_FORCE_HARD_THRESHOLD", "10")
	t.Setenv("SESSION_TIMEOUT", "30m")
	t.Setenv("GEO_CHECK_ENABLED", "false")
	t.Setenv("SERVER_PUBLIC_PATHS", "/assets/,/ping")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(10), cfg.BruteForce.HardThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Session.Timeout)
	assert.False(t, cfg.Geo.Enabled)
	assert.Equal(t, []string{"/assets/", "/ping"}, cfg.Server.PublicPaths)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_GeoProvidersFromEnv(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("GEO_PROVIDERS", "internal|https://geo.internal/{ip}|country|2s")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Geo.Providers, 1)
	p := cfg.Geo.Providers[0]
	assert.Equal(t, "internal", p.Name)
	assert.Equal(t, "https://geo.internal/{ip}", p.URL)
	assert.Equal(t, "country", p.CountryField)
	assert.Equal(t, 2*time.Second, p.Timeout)
}

func TestLoadPolicy_Defaults(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)

	assert.Equal(t, []string{"*"}, policy.Roles["SUPERADMIN"])
	assert.Contains(t, policy.Roles["DOCTOR"], "/patients/")
	assert.Contains(t, policy.CountryAliases["United States"], "usa")
}

func TestLoadPolicy_FileOverridesSectionWise(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := []byte(`
roles:
  DOCTOR:
    - /patients/
tenants:
  clinic-berlin:
    disabled_modules:
      - /billing/
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, map[string][]string{"DOCTOR": {"/patients/"}}, policy.Roles)
	assert.Equal(t, []string{"/billing/"}, policy.Tenants["clinic-berlin"].DisabledModules)
	// Untouched section keeps the defaults.
	assert.NotEmpty(t, policy.CountryAliases)
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	_, err := LoadPolicy("/nonexistent/policy.yaml")
	assert.Error(t, err)
}
