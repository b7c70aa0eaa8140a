package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nimbusid/authgateway/middleware"
	"github.com/nimbusid/authgateway/storage/usersclient"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
	})
}

func (h *handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		MaxAge:   -1,
	})
}

type loginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// login delegates credential verification to the Users store, which owns
// passwords; the gateway only ever handles the resulting subject id.
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	result, err := h.cfg.Users.Login(r.Context(), usersclient.LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		h.cfg.Audit.Record(r.Context(), auditEvent(r, "login", "denied"))
		writeAPIError(w, http.StatusUnauthorized, "invalid_credentials", "email or password incorrect")
		return
	}

	sess, err := h.cfg.Sessions.Create(r.Context(), result.Subject, req.DeviceFingerprint)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to create session")
		return
	}
	loginEvt := auditEvent(r, "login", "success")
	loginEvt.Subject = result.Subject
	h.cfg.Audit.Record(r.Context(), loginEvt)

	h.setSessionCookie(w, sess.ID)
	writeJSONOK(w, map[string]string{"subject": result.Subject})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		_ = h.cfg.Sessions.Revoke(r.Context(), cookie.Value)
	}
	_ = h.cfg.Users.Logout(r.Context(), principal.Subject)
	logoutEvt := auditEvent(r, "logout", "success")
	logoutEvt.Subject = principal.Subject
	logoutEvt.AuthSource = principal.Via
	h.cfg.Audit.Record(r.Context(), logoutEvt)
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type otpSendRequest struct {
	Email string `json:"email"`
}

func (h *handler) otpSend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if err := h.cfg.Users.SendOTP(r.Context(), usersclient.OTPSendRequest{Email: req.Email}); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to send one-time code")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) otpResend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if err := h.cfg.Users.ResendOTP(r.Context(), usersclient.OTPSendRequest{Email: req.Email}); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to resend one-time code")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type otpVerifyRequest struct {
	Email             string `json:"email"`
	Code              string `json:"code"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

func (h *handler) otpVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	result, err := h.cfg.Users.VerifyOTP(r.Context(), usersclient.OTPVerifyRequest{Email: req.Email, Code: req.Code})
	if err != nil {
		h.cfg.Audit.Record(r.Context(), auditEvent(r, "otp_verify", "denied"))
		writeAPIError(w, http.StatusUnauthorized, "invalid_code", "one-time code incorrect or expired")
		return
	}
	sess, err := h.cfg.Sessions.Create(r.Context(), result.Subject, req.DeviceFingerprint)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "server_error", "failed to create session")
		return
	}
	otpEvt := auditEvent(r, "otp_verify", "success")
	otpEvt.Subject = result.Subject
	h.cfg.Audit.Record(r.Context(), otpEvt)
	h.setSessionCookie(w, sess.ID)
	writeJSONOK(w, map[string]string{"subject": result.Subject})
}

func writeJSONOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
