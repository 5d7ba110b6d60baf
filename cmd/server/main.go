package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/curasys/gatekeeper/internal/audit"
	"github.com/curasys/gatekeeper/internal/authz"
	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/internal/geo"
	httpserver "github.com/curasys/gatekeeper/internal/infra/http"
	"github.com/curasys/gatekeeper/internal/infra/redis"
	"github.com/curasys/gatekeeper/internal/pipeline"
	"github.com/curasys/gatekeeper/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	log.Info("starting application", "app", cfg.App.Name, "env", cfg.App.Env)

	policy, err := config.LoadPolicy(cfg.RBAC.PolicyFile)
	if err != nil {
		log.Error("failed to load access policy", "error", err, "file", cfg.RBAC.PolicyFile)
		return 1
	}

	// ==========================================================================
	// Infrastructure
	// ==========================================================================
	redisClient, err := redis.New(&cfg.Redis, log)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		return 1
	}
	defer closeWithLog(redisClient, "redis", log)
	log.Info("redis connected")

	counters := redis.NewCounterStore(redisClient)
	sessions := redis.NewSessionStore(redisClient, cfg.Session.Timeout)
	geoCache := redis.NewGeoCache(redisClient, cfg.Geo.CacheTTL)

	// ==========================================================================
	// Audit
	// ==========================================================================
	sink := audit.NewAsyncSink(audit.NewLogSink(log), cfg.Audit.QueueSize, log)
	defer closeWithLog(sink, "audit sink", log)

	// ==========================================================================
	// Enforcement Pipeline
	// ==========================================================================
	matrix := authz.NewMatrix(policy, cfg.RBAC.LocalePrefixes, log)
	flags := authz.NewModuleFlags(policy)

	resolver := geo.NewResolver(&cfg.Geo, geoCache, log)
	normalizer := geo.NewNormalizer(policy.CountryAliases)

	brute := pipeline.NewBruteForceGate(cfg.BruteForce, cfg.Auth.UsernameHeader, counters, log)
	gates := []pipeline.Gate{
		brute,
		pipeline.NewSessionValidatorGate(cfg.Session, sessions, log),
		pipeline.NewRBACGate(matrix, flags, log),
		pipeline.NewGeoAccessGate(cfg.Geo, resolver, normalizer, log),
	}

	orchestrator := pipeline.NewOrchestrator(cfg, gates, brute, sessions, sink, log)

	// ==========================================================================
	// HTTP Server
	// ==========================================================================
	router, err := httpserver.NewRouter(cfg, orchestrator, log)
	if err != nil {
		log.Error("failed to build router", "error", err)
		return 1
	}

	server := httpserver.NewServer(cfg, router, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("application started",
		"http_addr", cfg.Server.Addr(),
		"upstream", cfg.Server.UpstreamURL,
	)

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("application stopped")
	return 0
}

type closer interface {
	Close() error
}

func closeWithLog(c closer, name string, log *logger.Logger) {
	if err := c.Close(); err != nil {
		log.Error("failed to close "+name, "error", err)
	}
}
