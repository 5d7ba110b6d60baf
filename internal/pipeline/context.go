package pipeline

import "context"

type principalKey struct{}

// WithPrincipal attaches the authenticated principal to the context. The
// session-cookie middleware calls this before the orchestrator runs.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached to the context, or a
// zero (unauthenticated) principal when none was set.
func PrincipalFromContext(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Principal{}
}
