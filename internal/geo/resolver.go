// Package geo resolves client IPs to countries through a chain of external
// providers, with a two-level read-through cache in front: an in-process
// cache for hot IPs and the shared store for the whole fleet.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/internal/metrics"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// SharedCache is the fleet-wide cache behind the resolver, implemented by
// the Redis geo cache. A miss is reported as an error matching ErrCacheMiss
// semantics of the store package; any error simply means "not cached".
type SharedCache interface {
	Get(ctx context.Context, ip string) (string, error)
	Put(ctx context.Context, ip, country string) error
}

// Resolver resolves an IP to a country name by walking the configured
// provider chain in order. Each provider call is independently time-boxed;
// a slow or failing provider hands over to the next one. When every
// provider fails the country stays unknown, which downstream gates treat
// as fail-open.
type Resolver struct {
	providers  []config.GeoProviderConfig
	httpClient *http.Client
	local      *gocache.Cache
	shared     SharedCache
	group      singleflight.Group
	log        *logger.Logger
}

// NewResolver creates a resolver. shared may be nil when no fleet-wide
// cache is available (tests, gatectl).
func NewResolver(cfg *config.GeoConfig, shared SharedCache, log *logger.Logger) *Resolver {
	return &Resolver{
		providers: cfg.Providers,
		// Per-provider deadlines come from the request context; the client
		// timeout is only a safety net above the longest provider timeout.
		httpClient: &http.Client{Timeout: 30 * time.Second},
		local:      gocache.New(cfg.LocalCacheTTL, 2*cfg.LocalCacheTTL),
		shared:     shared,
		log:        log.With("component", "geo_resolver"),
	}
}

// Resolve returns the country for an IP, or "" when it cannot be
// determined. Private and loopback addresses are never sent to providers.
func (r *Resolver) Resolve(ctx context.Context, ip string) string {
	if !resolvable(ip) {
		return ""
	}

	if cached, ok := r.local.Get(ip); ok {
		metrics.GeoResolutionsTotal.WithLabelValues("local").Inc()
		return cached.(string)
	}

	// Concurrent lookups for the same IP share one resolution.
	country, _, _ := r.group.Do(ip, func() (any, error) {
		return r.resolveUncached(ctx, ip), nil
	})

	return country.(string)
}

func (r *Resolver) resolveUncached(ctx context.Context, ip string) string {
	if r.shared != nil {
		if country, err := r.shared.Get(ctx, ip); err == nil && country != "" {
			r.local.SetDefault(ip, country)
			metrics.GeoResolutionsTotal.WithLabelValues("shared").Inc()
			return country
		}
	}

	for _, provider := range r.providers {
		country, err := r.fetch(ctx, provider, ip)
		if err != nil {
			metrics.GeoProviderCallsTotal.WithLabelValues(provider.Name, "error").Inc()
			r.log.Warn("geo provider failed, trying next",
				"provider", provider.Name,
				"ip", ip,
				"error", err,
			)
			continue
		}

		metrics.GeoProviderCallsTotal.WithLabelValues(provider.Name, "ok").Inc()
		metrics.GeoResolutionsTotal.WithLabelValues("provider").Inc()

		r.local.SetDefault(ip, country)
		if r.shared != nil {
			if err := r.shared.Put(ctx, ip, country); err != nil {
				r.log.Warn("geo cache write failed", "ip", ip, "error", err)
			}
		}
		return country
	}

	metrics.GeoResolutionsTotal.WithLabelValues("none").Inc()
	r.log.Warn("all geo providers failed", "ip", ip)
	return ""
}

// fetch queries one provider with its own timeout and extracts the
// configured country field from the JSON response.
func (r *Resolver) fetch(ctx context.Context, provider config.GeoProviderConfig, ip string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.Timeout)
	defer cancel()

	url := strings.ReplaceAll(provider.URL, "{ip}", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider status %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	country, ok := body[provider.CountryField].(string)
	if !ok || strings.TrimSpace(country) == "" {
		return "", errors.New("country field missing or empty")
	}

	return strings.TrimSpace(country), nil
}

// resolvable reports whether an IP is worth sending to a provider.
// Private, loopback and otherwise non-global addresses have no meaningful
// geolocation and resolve to "no country".
func resolvable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsUnspecified() ||
		parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() {
		return false
	}
	return true
}
