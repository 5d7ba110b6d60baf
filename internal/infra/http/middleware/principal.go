package middleware

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"

	"github.com/curasys/gatekeeper/internal/config"
	"github.com/curasys/gatekeeper/internal/pipeline"
	"github.com/curasys/gatekeeper/pkg/logger"
)

// SessionClaims is the payload of the HMAC-signed session token the
// authentication layer issues. The token ID (jti) doubles as the session
// key for hijack tracking, so the raw cookie value never has to be stored
// or logged.
type SessionClaims struct {
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	Superuser     bool   `json:"superuser,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	TenantCountry string `json:"tenant_country,omitempty"`

	jwt.RegisteredClaims
}

// Principal reads the session cookie, verifies the token and attaches the
// resulting principal to the request context. A missing, expired or
// tampered cookie leaves the request unauthenticated; the session gate
// decides what that means for the path being requested.
func Principal(cfg config.AuthConfig, log *logger.Logger) func(http.Handler) http.Handler {
	secret := []byte(cfg.JWTSecret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.JWTIssuer),
		jwt.WithExpirationRequired(),
	)
	log = log.With("component", "principal")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cfg.SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims := &SessionClaims{}
			token, err := parser.ParseWithClaims(cookie.Value, claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				// An invalid cookie is indistinguishable from no cookie;
				// log it and move on unauthenticated.
				log.Warn("session token rejected", "error", err, "remote_addr", r.RemoteAddr)
				next.ServeHTTP(w, r)
				return
			}

			principal := pipeline.Principal{
				Authenticated: true,
				UserID:        claims.Subject,
				Username:      claims.Username,
				Role:          claims.Role,
				IsSuperuser:   claims.Superuser,
				TenantID:      claims.TenantID,
				TenantCountry: claims.TenantCountry,
				SessionKey:    claims.ID,
			}

			ctx := pipeline.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
