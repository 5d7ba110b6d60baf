// Package http assembles the gatekeeper's HTTP surface: the middleware
// stack, the enforcement pipeline and the reverse proxy to the ERP
// application behind it.
package http

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/internal/infra/http/middleware"
	"github.com/curasys/gatekeeper/internal/pipeline"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// NewRouter builds the full handler chain. Everything except /health and
// /metrics flows through the principal middleware and the orchestrator
// before reaching the upstream proxy.
func NewRouter(cfg *config.Config, orchestrator *pipeline.Orchestrator, log *logger.Logger) (chi.Router, error) {
	upstream, err := NewUpstreamProxy(cfg.Server.UpstreamURL, log)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	r.Use(
		middleware.Recovery(log, cfg.IsProduction()),
		middleware.RequestID(),
		middleware.RealIP(cfg.Server.TrustProxyHeaders),
		middleware.Metrics(),
		middleware.Logger(log, []string{"/health", "/metrics"}),
	)

	r.Get("/health", healthHandler(cfg))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Principal(cfg.Auth, log),
			orchestrator.Middleware,
		)
		r.Handle("/*", upstream)
	})

	return r, nil
}

// NewUpstreamProxy proxies vetted requests to the ERP application.
func NewUpstreamProxy(rawURL string, log *logger.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error("upstream unreachable", "upstream", target.Host, "path", r.URL.Path, "error", err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	}
	return proxy, nil
}

func healthHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": cfg.App.Name,
		})
	}
}
