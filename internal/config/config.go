// Package config holds all runtime configuration for the security pipeline.
// Everything is loaded once at process start from environment variables plus
// an optional YAML policy file; request handling never consults the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Redis      RedisConfig
	Log        LogConfig
	Auth       AuthConfig
	BruteForce BruteForceConfig
	Session    SessionConfig
	RBAC       RBACConfig
	Geo        GeoConfig
	Audit      AuditConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string `validate:"required"`
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TrustProxyHeaders enables X-Forwarded-For handling (first entry wins).
	// Only set behind the hospital reverse proxy.
	TrustProxyHeaders bool

	// PublicPaths bypass the entire pipeline (static assets, health, metrics).
	PublicPaths []string

	// UpstreamURL is the ERP application the gatekeeper fronts. Vetted
	// requests are proxied there unchanged.
	UpstreamURL string `validate:"required,url"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig holds configuration for the shared counter/session/geo store.
type RedisConfig struct {
	Host          string `validate:"required"`
	Port          int    `validate:"gt=0,lte=65535"`
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// Addr returns the host:port address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=json text"`
}

// AuthConfig describes how the authenticated principal reaches the pipeline.
// The authentication layer issues an HMAC-signed session JWT; the pipeline
// only reads it.
type AuthConfig struct {
	SessionCookieName string `validate:"required"`
	JWTSecret         string `validate:"required,min=32"`
	JWTIssuer         string

	// LoginPath is both the redirect target for forced logouts and the
	// primary authentication endpoint watched by the brute-force gate.
	LoginPath string `validate:"required"`

	// UsernameHeader carries the attempted username on failed logins so the
	// per-user counter can be tracked alongside the per-IP one.
	UsernameHeader string
}

// BruteForceConfig holds lockout thresholds for the brute-force gate.
type BruteForceConfig struct {
	Enabled bool

	// SoftThreshold failures trigger a CAPTCHA challenge requirement.
	SoftThreshold int64 `validate:"gt=0"`

	// HardThreshold failures trigger a full lockout.
	HardThreshold int64 `validate:"gt=0,gtefield=SoftThreshold"`

	// Window is the TTL of the failure counters; counts reset when it elapses.
	Window time.Duration `validate:"gt=0"`

	// LockoutDuration refreshes the counter TTL once the hard threshold is
	// reached, so a locked key stays locked for the full duration.
	LockoutDuration time.Duration `validate:"gt=0"`

	// AuthPaths are the endpoints whose responses are observed for
	// authentication outcomes.
	AuthPaths []string

	// FallbackRPS/FallbackBurst bound the in-process limiter that guards the
	// auth endpoints while the shared store is unreachable.
	FallbackRPS   float64 `validate:"gt=0"`
	FallbackBurst int     `validate:"gt=0"`
}

// SessionConfig holds session validation configuration.
type SessionConfig struct {
	Timeout time.Duration `validate:"gt=0"`

	// ExemptPaths skip session validation (logout endpoint, static assets)
	// to avoid locking a user out of the logout itself.
	ExemptPaths []string
}

// RBACConfig holds role-based access configuration.
type RBACConfig struct {
	// PolicyFile optionally overrides the compiled-in role matrix, country
	// alias table and tenant module flags.
	PolicyFile string

	// LocalePrefixes are the language codes stripped from the front of a
	// path before prefix matching (/en/patients/ -> /patients/).
	LocalePrefixes []string
}

// GeoProviderConfig describes one external geolocation provider.
type GeoProviderConfig struct {
	Name string `validate:"required"`

	// URL is a template where {ip} is replaced by the client address.
	URL string `validate:"required,contains={ip}"`

	// CountryField is the JSON field holding the country name.
	CountryField string `validate:"required"`

	Timeout time.Duration `validate:"gt=0"`
}

// GeoConfig holds geolocation and tenant-country enforcement configuration.
type GeoConfig struct {
	Enabled bool

	Providers []GeoProviderConfig `validate:"dive"`

	// CacheTTL is the shared (Redis) cache TTL for resolved countries.
	CacheTTL time.Duration `validate:"gt=0"`

	// LocalCacheTTL is the in-process L1 cache TTL.
	LocalCacheTTL time.Duration `validate:"gt=0"`

	// SkipPaths bypass the geo gate (login/logout/static/admin override).
	SkipPaths []string
}

// AuditConfig holds audit sink configuration.
type AuditConfig struct {
	// QueueSize bounds the async audit queue; events beyond it are dropped
	// and counted rather than blocking the request.
	QueueSize int `validate:"gt=0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "gatekeeper"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			TrustProxyHeaders: getEnvBool("SERVER_TRUST_PROXY_HEADERS", false),
			PublicPaths: getEnvSlice("SERVER_PUBLIC_PATHS", []string{
				"/static/", "/favicon.ico", "/health", "/metrics",
			}),
			UpstreamURL: getEnv("SERVER_UPSTREAM_URL", "http://localhost:8000"),
		},
		Redis: redisFromEnv(),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			SessionCookieName: getEnv("AUTH_SESSION_COOKIE_NAME", "erp_session"),
			JWTSecret:         getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:         getEnv("AUTH_JWT_ISSUER", "curasys-erp"),
			LoginPath:         getEnv("AUTH_LOGIN_PATH", "/login/"),
			UsernameHeader:    getEnv("AUTH_USERNAME_HEADER", "X-Auth-Username"),
		},
		BruteForce: BruteForceConfig{
			Enabled:         getEnvBool("BRUTE_FORCE_ENABLED", true),
			SoftThreshold:   getEnvInt64("BRUTE_FORCE_SOFT_THRESHOLD", 3),
			HardThreshold:   getEnvInt64("BRUTE_FORCE_HARD_THRESHOLD", 5),
			Window:          getEnvDuration("BRUTE_FORCE_WINDOW", 300*time.Second),
			LockoutDuration: getEnvDuration("BRUTE_FORCE_LOCKOUT_DURATION", 300*time.Second),
			AuthPaths:       getEnvSlice("BRUTE_FORCE_AUTH_PATHS", []string{"/login/"}),
			FallbackRPS:     getEnvFloat("BRUTE_FORCE_FALLBACK_RPS", 1),
			FallbackBurst:   getEnvInt("BRUTE_FORCE_FALLBACK_BURST", 5),
		},
		Session: SessionConfig{
			Timeout: getEnvDuration("SESSION_TIMEOUT", 3600*time.Second),
			ExemptPaths: getEnvSlice("SESSION_EXEMPT_PATHS", []string{
				"/login/", "/logout/", "/static/",
			}),
		},
		RBAC: RBACConfig{
			PolicyFile: getEnv("RBAC_POLICY_FILE", ""),
			LocalePrefixes: getEnvSlice("RBAC_LOCALE_PREFIXES", []string{
				"en", "fr", "de", "es", "ar",
			}),
		},
		Geo: GeoConfig{
			Enabled:       getEnvBool("GEO_CHECK_ENABLED", true),
			Providers:     defaultGeoProviders(),
			CacheTTL:      getEnvDuration("GEO_CACHE_TTL", 24*time.Hour),
			LocalCacheTTL: getEnvDuration("GEO_LOCAL_CACHE_TTL", 5*time.Minute),
			SkipPaths: getEnvSlice("GEO_SKIP_PATHS", []string{
				"/login/", "/logout/", "/static/", "/admin/geo-override/",
			}),
		},
		Audit: AuditConfig{
			QueueSize: getEnvInt("AUDIT_QUEUE_SIZE", 1024),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func redisFromEnv() RedisConfig {
	return RedisConfig{
		Host:          getEnv("REDIS_HOST", "localhost"),
		Port:          getEnvInt("REDIS_PORT", 6379),
		Password:      getEnv("REDIS_PASSWORD", ""),
		DB:            getEnvInt("REDIS_DB", 0),
		PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
		TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
		MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
		MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
		MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
	}
}

// defaultGeoProviders returns the built-in provider chain, overridable via
// GEO_PROVIDERS as "name|url|field[|timeout],...".
func defaultGeoProviders() []GeoProviderConfig {
	defaults := []GeoProviderConfig{
		{Name: "ipapi", URL: "https://ipapi.co/{ip}/json/", CountryField: "country_name", Timeout: 5 * time.Second},
		{Name: "ip-api", URL: "http://ip-api.com/json/{ip}", CountryField: "country", Timeout: 5 * time.Second},
		{Name: "ipwhois", URL: "https://ipwho.is/{ip}", CountryField: "country", Timeout: 5 * time.Second},
	}

	raw := os.Getenv("GEO_PROVIDERS")
	if raw == "" {
		return defaults
	}

	var providers []GeoProviderConfig
	for _, entry := range splitAndTrim(raw, ",") {
		parts := strings.Split(entry, "|")
		if len(parts) < 3 {
			continue
		}
		p := GeoProviderConfig{
			Name:         strings.TrimSpace(parts[0]),
			URL:          strings.TrimSpace(parts[1]),
			CountryField: strings.TrimSpace(parts[2]),
			Timeout:      5 * time.Second,
		}
		if len(parts) > 3 {
			if d, err := time.ParseDuration(strings.TrimSpace(parts[3])); err == nil {
				p.Timeout = d
			}
		}
		providers = append(providers, p)
	}

	if len(providers) == 0 {
		return defaults
	}
	return providers
}

// LoadRedis loads only the Redis section, for tools that need the shared
// store without the rest of the server configuration.
func LoadRedis() (*RedisConfig, error) {
	redisCfg := redisFromEnv()

	v := validator.New()
	if err := v.Struct(redisCfg); err != nil {
		return nil, fmt.Errorf("redis config validation: %w", err)
	}
	return &redisCfg, nil
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		result := splitAndTrim(value, ",")
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
