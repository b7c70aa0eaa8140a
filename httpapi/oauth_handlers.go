package httpapi

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/nimbusid/authgateway/audit"
	"github.com/nimbusid/authgateway/middleware"
	"github.com/nimbusid/authgateway/oauth"
	pkghttp "github.com/nimbusid/authgateway/pkg/http"
	"github.com/nimbusid/authgateway/storage"
)

type handler struct {
	cfg Config
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		return strings.TrimSpace(strings.Split(xf, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func eventMetadata(r *http.Request, actor string) storage.EventMetadata {
	return storage.EventMetadata{
		Actor:     actor,
		RequestID: r.Header.Get("X-Request-Id"),
		IPHash:    audit.HashIP(clientIP(r)),
	}
}

// auditEvent pre-fills the request-scoped fields every audit.Event at this
// layer carries: request id, IP, and user agent.
func auditEvent(r *http.Request, action, outcome string) audit.Event {
	return audit.Event{
		Action:    action,
		Outcome:   outcome,
		IP:        clientIP(r),
		RequestID: r.Header.Get("X-Request-Id"),
		UserAgent: r.UserAgent(),
	}
}

const sessionCookieName = "authgateway_session"

// authorize handles GET /authorize. The caller must already hold a valid
// session cookie, set by a prior POST /v1/auth/login or
// /v1/auth/otp/verify; the gateway has no login UI of its own, so a caller
// with no session is told to authenticate first rather than redirected to
// one.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("response_type") != "code" {
		writeOAuthOrInternalError(w, &oauth.Error{Code: "unsupported_response_type", Description: "only response_type=code is supported"})
		return
	}

	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		writeAPIError(w, http.StatusUnauthorized, "login_required", "no active session; authenticate via /v1/auth/login first")
		return
	}
	sess, err := h.cfg.Sessions.Validate(r.Context(), cookie.Value)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, "login_required", "session expired or revoked")
		return
	}

	code, err := h.cfg.OAuth.Authorize(r.Context(), oauth.AuthorizeParams{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              splitScope(q.Get("scope")),
		ProjectScope:        q.Get("project_scope"),
		Subject:             sess.Subject,
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		evt := auditEvent(r, "authorize", "denied")
		evt.Subject = sess.Subject
		h.cfg.Audit.Record(r.Context(), evt)
		writeOAuthOrInternalError(w, err)
		return
	}

	successEvt := auditEvent(r, "authorize", "success")
	successEvt.Subject = sess.Subject
	h.cfg.Audit.Record(r.Context(), successEvt)

	dest := pkghttp.MergeQuery(*mustParseURL(q.Get("redirect_uri")), map[string][]string{
		"code":  {code},
		"state": {q.Get("state")},
	})
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (h *handler) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthOrInternalError(w, &oauth.Error{Code: "invalid_request", Description: "malformed form body"})
		return
	}
	grantType := r.PostForm.Get("grant_type")
	clientID, clientSecret := clientCredentialsFromRequest(r)
	meta := eventMetadata(r, clientID)

	var (
		resp oauth.TokenResponse
		err  error
	)
	switch grantType {
	case "authorization_code":
		resp, err = h.cfg.OAuth.ExchangeAuthCode(r.Context(), oauth.ExchangeAuthCodeParams{
			Code:         r.PostForm.Get("code"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			Metadata:     meta,
		})
	case "refresh_token":
		resp, err = h.cfg.OAuth.Refresh(r.Context(), oauth.RefreshParams{
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Metadata:     meta,
		})
	case "client_credentials":
		resp, err = h.cfg.OAuth.ClientCredentials(r.Context(), oauth.ClientCredentialsParams{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       splitScope(r.PostForm.Get("scope")),
			Metadata:     meta,
		})
	default:
		err = &oauth.Error{Code: "unsupported_grant_type", Description: "grant_type not supported: " + grantType}
	}

	outcome := "success"
	if err != nil {
		outcome = "denied"
	}
	tokenEvt := auditEvent(r, "token."+grantType, outcome)
	tokenEvt.ClientID = clientID
	h.cfg.Audit.Record(r.Context(), tokenEvt)

	if err != nil {
		writeOAuthOrInternalError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func clientCredentialsFromRequest(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
}

func splitScope(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Fields(raw)
}

func (h *handler) introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}

	if result := h.cfg.OAuth.IntrospectAccessToken(token); result.Active {
		pkghttp.WriteJSON(w, http.StatusOK, result)
		return
	}
	result, err := h.cfg.OAuth.IntrospectRefreshToken(r.Context(), token)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "introspection failed")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func (h *handler) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	token := r.PostForm.Get("token")
	if token == "" {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "token is required")
		return
	}
	if err := h.cfg.OAuth.RevokeRefreshToken(r.Context(), token); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "revocation failed")
		return
	}
	principal, _ := middleware.PrincipalFromContext(r.Context())
	revokeEvt := auditEvent(r, "token.revoked", "success")
	revokeEvt.ClientID = principal.ClientID
	revokeEvt.AuthSource = principal.Via
	h.cfg.Audit.Record(r.Context(), revokeEvt)
	w.WriteHeader(http.StatusOK)
}
