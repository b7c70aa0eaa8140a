package http

import (
	"encoding/json"
	"net/http"
	"net/url"
	"path"
)

// WriteError writes a minimal {"error": msg} JSON envelope.
func WriteError(w http.ResponseWriter, code int, msg string) {
	e := struct {
		Error string `json:"error"`
	}{
		Error: msg,
	}
	b, err := json.Marshal(e)
	if err != nil {
		b = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

// APIError is the gateway's JSON error envelope for non-OAuth routes:
// {"error": "<kind>", "message": "<message>"}.
type APIError struct {
	Kind    string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteAPIError writes status and e as a JSON error envelope.
func WriteAPIError(w http.ResponseWriter, status int, e APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if b, err := json.Marshal(e); err == nil {
		w.Write(b)
		return
	}
	w.Write([]byte(`{"error":"internal_error"}`))
}

// OAuthError is the RFC 6749 §5.2 token-endpoint error envelope.
type OAuthError struct {
	Code        string
	Description string
}

// WriteOAuthError writes e as {"error": ..., "error_description": ...}.
func WriteOAuthError(w http.ResponseWriter, status int, e OAuthError) {
	body := struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description,omitempty"`
	}{Error: e.Code, ErrorDescription: e.Description}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if b, err := json.Marshal(body); err == nil {
		w.Write(b)
		return
	}
	w.Write([]byte(`{"error":"server_error"}`))
}

// OAuthErrorStatus maps an RFC 6749 error code to its HTTP status.
func OAuthErrorStatus(code string) int {
	switch code {
	case "invalid_client":
		return http.StatusUnauthorized
	case "invalid_request", "invalid_grant", "unauthorized_client", "unsupported_grant_type", "invalid_scope":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v as a JSON response body with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MergeQuery appends additional query values to an existing URL.
func MergeQuery(u url.URL, q url.Values) url.URL {
	uv := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			uv.Add(k, v)
		}
	}
	u.RawQuery = uv.Encode()
	return u
}

// NewResourceLocation appends a resource id to the end of the requested URL path.
func NewResourceLocation(reqURL *url.URL, id string) string {
	var u url.URL
	u = *reqURL
	u.Path = path.Join(u.Path, id)
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
