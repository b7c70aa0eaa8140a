package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/nimbusid/authgateway/cache"
	pkghttp "github.com/nimbusid/authgateway/pkg/http"
)

// RateLimit applies a Redis token-bucket limiter per caller principal,
// falling back to an IP-based key for unauthenticated routes.
func RateLimit(limiter *cache.RateLimiter, limit cache.RouteLimit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.Context(), limit, principal(r)) {
				pkghttp.WriteAPIError(w, http.StatusTooManyRequests, pkghttp.APIError{Kind: "rate_limited", Message: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principal(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		if p.ClientID != "" {
			return "client:" + p.ClientID
		}
		if p.Subject != "" {
			return "sub:" + p.Subject
		}
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return "ip:" + strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:unknown"
	}
	return "ip:" + host
}
