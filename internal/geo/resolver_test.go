package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/pkg/logger"
)

func geoConfig(providers ...config.GeoProviderConfig) *config.GeoConfig {
	return &config.GeoConfig{
		Enabled:       true,
		Providers:     providers,
		CacheTTL:      24 * time.Hour,
		LocalCacheTTL: time.Minute,
	}
}

func provider(name, url, field string) config.GeoProviderConfig {
	return config.GeoProviderConfig{Name: name, URL: url, CountryField: field, Timeout: 2 * time.Second}
}

func TestResolve_FirstProviderWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/198.51.100.4/json/", r.URL.Path)
		w.Write([]byte(`{"country_name": "France"}`))
	}))
	defer srv.Close()

	r := NewResolver(geoConfig(
		provider("primary", srv.URL+"/{ip}/json/", "country_name"),
	), nil, logger.NewNop())

	assert.Equal(t, "France", r.Resolve(context.Background(), "198.51.100.4"))
}

func TestResolve_FallsBackToNextProvider(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`)) // no country field
	}))
	defer malformed.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"country": "Germany"}`))
	}))
	defer working.Close()

	r := NewResolver(geoConfig(
		provider("failing", failing.URL+"/{ip}", "country"),
		provider("malformed", malformed.URL+"/{ip}", "country"),
		provider("working", working.URL+"/{ip}", "country"),
	), nil, logger.NewNop())

	assert.Equal(t, "Germany", r.Resolve(context.Background(), "198.51.100.4"))
}

func TestResolve_AllProvidersFailMeansUnknown(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	r := NewResolver(geoConfig(
		provider("a", failing.URL+"/{ip}", "country"),
		provider("b", failing.URL+"/{ip}", "country"),
	), nil, logger.NewNop())

	assert.Equal(t, "", r.Resolve(context.Background(), "198.51.100.4"))
}

func TestResolve_ProviderTimeoutMovesOn(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.Write([]byte(`{"country": "Nowhere"}`))
	}))
	defer slow.Close()

	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"country": "Japan"}`))
	}))
	defer fast.Close()

	slowProvider := provider("slow", slow.URL+"/{ip}", "country")
	slowProvider.Timeout = 50 * time.Millisecond

	r := NewResolver(geoConfig(
		slowProvider,
		provider("fast", fast.URL+"/{ip}", "country"),
	), nil, logger.NewNop())

	assert.Equal(t, "Japan", r.Resolve(context.Background(), "198.51.100.4"))
}

func TestResolve_PrivateAndInvalidIPsSkipProviders(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"country": "Germany"}`))
	}))
	defer srv.Close()

	r := NewResolver(geoConfig(provider("p", srv.URL+"/{ip}", "country")), nil, logger.NewNop())

	for _, ip := range []string{"10.0.0.1", "192.168.1.5", "127.0.0.1", "::1", "not-an-ip", ""} {
		assert.Equal(t, "", r.Resolve(context.Background(), ip), "ip %q", ip)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestResolve_LocalCacheAvoidsSecondCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"country": "Italy"}`))
	}))
	defer srv.Close()

	r := NewResolver(geoConfig(provider("p", srv.URL+"/{ip}", "country")), nil, logger.NewNop())

	assert.Equal(t, "Italy", r.Resolve(context.Background(), "198.51.100.4"))
	assert.Equal(t, "Italy", r.Resolve(context.Background(), "198.51.100.4"))
	assert.Equal(t, int32(1), calls.Load())
}

type fakeShared struct {
	entries map[string]string
	puts    int
}

func (f *fakeShared) Get(_ context.Context, ip string) (string, error) {
	if c, ok := f.entries[ip]; ok {
		return c, nil
	}
	return "", assert.AnError
}

func (f *fakeShared) Put(_ context.Context, ip, country string) error {
	f.entries[ip] = country
	f.puts++
	return nil
}

func TestResolve_SharedCacheReadThrough(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"country": "Spain"}`))
	}))
	defer srv.Close()

	shared := &fakeShared{entries: map[string]string{"203.0.113.7": "Portugal"}}
	r := NewResolver(geoConfig(provider("p", srv.URL+"/{ip}", "country")), shared, logger.NewNop())

	// Hit in shared cache: no provider call.
	assert.Equal(t, "Portugal", r.Resolve(context.Background(), "203.0.113.7"))
	assert.Equal(t, int32(0), calls.Load())

	// Miss: provider resolves and the result is written back.
	assert.Equal(t, "Spain", r.Resolve(context.Background(), "198.51.100.4"))
	require.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "Spain", shared.entries["198.51.100.4"])
	assert.Equal(t, 1, shared.puts)
}
