package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/nimbusid/authgateway/apikey"
	"github.com/nimbusid/authgateway/audit"
	"github.com/nimbusid/authgateway/oauth"
	pkghttp "github.com/nimbusid/authgateway/pkg/http"
	"github.com/nimbusid/authgateway/pkg/log"
)

// Authenticator validates either an X-API-Key header or a bearer JWT access
// token (refresh tokens are not accepted as bearers), attaching a Principal
// to the request context on success.
type Authenticator struct {
	oauth   *oauth.Service
	apiKeys *apikey.Service
	logger  log.Logger
	audit   *audit.Logger
}

func NewAuthenticator(o *oauth.Service, ak *apikey.Service, logger log.Logger, auditLogger *audit.Logger) *Authenticator {
	return &Authenticator{oauth: o, apiKeys: ak, logger: logger, audit: auditLogger}
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, reason string) {
	pkghttp.WriteAPIError(w, http.StatusUnauthorized, pkghttp.APIError{Kind: "unauthorized", Message: reason})
}

// Require rejects any request without a valid bearer token or API key. Every
// outcome, allowed or denied, is recorded with the request id, hashed IP,
// and user agent; allowed outcomes also carry the validation path
// (auth_source) that produced them, denied ones carry none.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := a.authenticate(r)
		if !ok {
			a.audit.Record(r.Context(), audit.Event{
				Action:    "auth",
				Outcome:   "denied",
				IP:        requestIP(r),
				RequestID: r.Header.Get("X-Request-Id"),
				UserAgent: r.UserAgent(),
			})
			a.unauthorized(w, "missing or invalid credentials")
			return
		}
		a.audit.Record(r.Context(), audit.Event{
			Action:       "auth",
			Outcome:      "success",
			Subject:      principal.Subject,
			ClientID:     principal.ClientID,
			ProjectScope: principal.ProjectScope,
			IP:           requestIP(r),
			RequestID:    r.Header.Get("X-Request-Id"),
			UserAgent:    r.UserAgent(),
			AuthSource:   principal.Via,
		})
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func requestIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		return strings.TrimSpace(strings.Split(xf, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate checks an X-API-Key header first when one is present; a
// request without one must carry a bearer token, which is verified locally
// as a JWT access token (no storage round trip). A bearer value is never
// tried as an API key. Either success path is equivalent to the caller.
func (a *Authenticator) authenticate(r *http.Request) (Principal, bool) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		k, err := a.apiKeys.Verify(r.Context(), key)
		if err != nil {
			return Principal{}, false
		}
		return Principal{Subject: k.Owner, Scope: joinScopes(k.Scopes), Via: "api_key"}, true
	}

	raw, ok := bearerToken(r)
	if !ok {
		return Principal{}, false
	}

	if result := a.oauth.IntrospectAccessToken(raw); result.Active {
		return principalFromIntrospection("bearer", result), true
	}
	return Principal{}, false
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), h[len(prefix):] != ""
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

// RequireProjectScope rejects requests whose authenticated principal's
// project_scope does not match the one the route operates on, unless
// project-scope enforcement is globally disabled. An empty caller
// ProjectScope is treated as "applies to every project", matching a
// service-level credential. A mismatch emits a project_scope_violation
// audit event carrying the requested scope and the route's allow-list.
func RequireProjectScope(required bool, allowed []string, auditLogger *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !required {
				next.ServeHTTP(w, r)
				return
			}
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				pkghttp.WriteAPIError(w, http.StatusUnauthorized, pkghttp.APIError{Kind: "unauthorized", Message: "no authenticated principal"})
				return
			}
			if principal.ProjectScope == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !containsScope(allowed, principal.ProjectScope) {
				auditLogger.Record(r.Context(), audit.Event{
					Action:       "project_scope_violation",
					Outcome:      "denied",
					Subject:      principal.Subject,
					ClientID:     principal.ClientID,
					ProjectScope: principal.ProjectScope,
					IP:           requestIP(r),
					RequestID:    r.Header.Get("X-Request-Id"),
					UserAgent:    r.UserAgent(),
					AuthSource:   principal.Via,
					Requested:    principal.ProjectScope,
					Allowed:      strings.Join(allowed, ","),
				})
				pkghttp.WriteAPIError(w, http.StatusForbidden, pkghttp.APIError{Kind: "forbidden", Message: "project_scope not permitted"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func containsScope(allowed []string, scope string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == scope {
			return true
		}
	}
	return false
}
