package pipeline

import (
	"context"
	"net/http"
	"strings"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/internal/geo"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// GeoAccessGate restricts tenant users to their tenant's country. The
// check is advisory-strict: a confirmed mismatch denies, but an IP that
// cannot be resolved (provider outage, private address, cache miss with no
// provider) fails open so a geolocation hiccup never locks the hospital
// out of its own system.
type GeoAccessGate struct {
	cfg        config.GeoConfig
	resolver   *geo.Resolver
	normalizer *geo.Normalizer
	log        *logger.Logger
}

func NewGeoAccessGate(cfg config.GeoConfig, resolver *geo.Resolver, normalizer *geo.Normalizer, log *logger.Logger) *GeoAccessGate {
	return &GeoAccessGate{
		cfg:        cfg,
		resolver:   resolver,
		normalizer: normalizer,
		log:        log.With("component", "geo_gate"),
	}
}

func (g *GeoAccessGate) Name() string { return GateGeo }

func (g *GeoAccessGate) Evaluate(ctx context.Context, req *Request) Decision {
	if !g.cfg.Enabled || g.isSkipped(req.Path) {
		return Allowed()
	}

	// Superusers administer tenants from anywhere.
	if req.Principal.IsSuperuser {
		return Allowed()
	}

	// Users without a tenant country restriction pass.
	expected := req.Principal.TenantCountry
	if !req.Principal.Authenticated || expected == "" {
		return Allowed()
	}

	detected := g.resolver.Resolve(ctx, req.IP)
	if detected == "" {
		// Unknown location fails open.
		return Allowed()
	}

	if !g.normalizer.Match(detected, expected) {
		// A confirmed mismatch kills the session outright; the login page
		// tells the user which country they appeared from and which one
		// their tenant allows.
		d := Deny(GateGeo, ReasonCountryMismatch, http.StatusFound)
		d.Severity = "critical"
		d.ForceLogout = true
		d.Detail = map[string]string{
			"detected_country": detected,
			"expected_country": expected,
		}
		d.Flash = d.Detail
		return d
	}

	return Allowed()
}

func (g *GeoAccessGate) isSkipped(path string) bool {
	for _, p := range g.cfg.SkipPaths {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}
