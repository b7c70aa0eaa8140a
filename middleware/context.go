// Package middleware implements the HTTP cross-cutting concerns shared by
// every protected route: bearer/API-key authentication, project_scope
// enforcement, rate limiting, and CORS.
package middleware

import (
	"context"

	"github.com/nimbusid/authgateway/oauth"
)

type principalKey struct{}

// Principal is the authenticated caller attached to the request context by
// Authenticator.Require.
type Principal struct {
	Subject      string
	ClientID     string
	Scope        string
	ProjectScope string
	Via          string // "bearer" or "api_key"
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromIntrospection(via string, r oauth.IntrospectionResult) Principal {
	return Principal{
		Subject:      r.Subject,
		ClientID:     r.ClientID,
		Scope:        r.Scope,
		ProjectScope: r.ProjectScope,
		Via:          via,
	}
}
