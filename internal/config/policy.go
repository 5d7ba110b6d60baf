package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy bundles the static access-control data: the role -> path-prefix
// matrix, the country alias table and per-tenant module flags. It is loaded
// once at startup and immutable afterwards.
type Policy struct {
	// Roles maps a role name to its allowed path prefixes. The single
	// entry "*" grants every path.
	Roles map[string][]string `yaml:"roles"`

	// CountryAliases maps a canonical country name to its accepted synonyms.
	// Matching is case- and whitespace-insensitive.
	CountryAliases map[string][]string `yaml:"country_aliases"`

	// Tenants holds per-tenant overrides keyed by tenant ID.
	Tenants map[string]TenantPolicy `yaml:"tenants"`
}

// TenantPolicy holds the per-tenant module enablement flags.
type TenantPolicy struct {
	// DisabledModules are path prefixes denied for the tenant regardless of
	// the requester's role.
	DisabledModules []string `yaml:"disabled_modules"`
}

// DefaultPolicy returns the compiled-in policy used when no policy file is
// configured. The matrix mirrors the ERP module layout.
func DefaultPolicy() *Policy {
	return &Policy{
		Roles: map[string][]string{
			"SUPERADMIN":   {"*"},
			"ADMIN":        {"*"},
			"DOCTOR":       {"/patients/", "/appointments/", "/pharmacy/prescriptions/"},
			"NURSE":        {"/patients/", "/appointments/"},
			"RECEPTIONIST": {"/appointments/", "/billing/"},
			"PHARMACIST":   {"/pharmacy/"},
			"ACCOUNTANT":   {"/billing/", "/reports/"},
		},
		CountryAliases: map[string][]string{
			"United States":        {"usa", "us", "united states", "united states of america", "america"},
			"United Kingdom":       {"uk", "gb", "great britain", "england", "united kingdom"},
			"United Arab Emirates": {"uae", "united arab emirates", "emirates"},
			"South Korea":          {"korea", "republic of korea", "south korea"},
		},
		Tenants: map[string]TenantPolicy{},
	}
}

// LoadPolicy reads a policy file when path is non-empty, otherwise returns
// the compiled-in defaults. File sections that are absent fall back to the
// defaults section-wise, so a file may override only the role matrix.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var loaded Policy
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	if len(loaded.Roles) > 0 {
		policy.Roles = loaded.Roles
	}
	if len(loaded.CountryAliases) > 0 {
		policy.CountryAliases = loaded.CountryAliases
	}
	if len(loaded.Tenants) > 0 {
		policy.Tenants = loaded.Tenants
	}

	return policy, nil
}
