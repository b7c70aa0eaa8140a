package httpapi

import (
	"net/http"

	"github.com/nimbusid/authgateway/oauth"
	pkghttp "github.com/nimbusid/authgateway/pkg/http"
)

func writeAPIError(w http.ResponseWriter, status int, kind, message string) {
	pkghttp.WriteAPIError(w, status, pkghttp.APIError{Kind: kind, Message: message})
}

// writeOAuthOrInternalError renders err as the RFC 6749 token-endpoint
// envelope when it is an *oauth.Error, otherwise as a generic server_error
// so a storage failure never leaks internal detail to the client.
func writeOAuthOrInternalError(w http.ResponseWriter, err error) {
	if oe, ok := err.(*oauth.Error); ok {
		pkghttp.WriteOAuthError(w, pkghttp.OAuthErrorStatus(oe.Code), pkghttp.OAuthError{
			Code:        oe.Code,
			Description: oe.Description,
		})
		return
	}
	pkghttp.WriteOAuthError(w, http.StatusInternalServerError, pkghttp.OAuthError{Code: "server_error"})
}
