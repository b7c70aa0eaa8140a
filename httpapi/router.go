package httpapi

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/nimbusid/authgateway/cache"
	"github.com/nimbusid/authgateway/middleware"
)

// NewRouter builds the gateway's HTTP handler tree: OAuth2 endpoints,
// management API, login delegation, and health/metrics, each carrying the
// cross-cutting middleware its sensitivity calls for.
func NewRouter(cfg Config) http.Handler {
	h := &handler{cfg: cfg}

	r := mux.NewRouter().SkipClean(true)
	r.NotFoundHandler = http.HandlerFunc(h.notFound)

	r.Handle("/authorize", rateLimited(cfg, rateLimits.Default, http.HandlerFunc(h.authorize))).Methods(http.MethodGet)
	r.Handle("/token", rateLimited(cfg, rateLimits.Token, http.HandlerFunc(h.token))).Methods(http.MethodPost)
	r.Handle("/introspect", cfg.Auth.Require(http.HandlerFunc(h.introspect))).Methods(http.MethodPost)
	r.Handle("/revoke", cfg.Auth.Require(http.HandlerFunc(h.revoke))).Methods(http.MethodPost)

	r.Handle("/v1/auth/login", rateLimited(cfg, rateLimits.Login, http.HandlerFunc(h.login))).Methods(http.MethodPost)
	r.Handle("/v1/auth/logout", cfg.Auth.Require(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
	r.Handle("/v1/auth/otp/send", rateLimited(cfg, rateLimits.Login, http.HandlerFunc(h.otpSend))).Methods(http.MethodPost)
	r.Handle("/v1/auth/otp/verify", rateLimited(cfg, rateLimits.Login, http.HandlerFunc(h.otpVerify))).Methods(http.MethodPost)
	r.Handle("/v1/auth/otp/resend", rateLimited(cfg, rateLimits.Login, http.HandlerFunc(h.otpResend))).Methods(http.MethodPost)

	clients := r.PathPrefix("/v1/clients").Subrouter()
	clients.Use(requireAuth(cfg), requireProjectScope(cfg), apiWriteLimit(cfg))
	clients.HandleFunc("", h.listClients).Methods(http.MethodGet)
	clients.HandleFunc("", h.createClient).Methods(http.MethodPost)
	clients.HandleFunc("/{id}", h.getClient).Methods(http.MethodGet)
	clients.HandleFunc("/{id}", h.updateClient).Methods(http.MethodPut)

	apiKeys := r.PathPrefix("/v1/api-keys").Subrouter()
	apiKeys.Use(requireAuth(cfg), requireProjectScope(cfg), apiWriteLimit(cfg))
	apiKeys.HandleFunc("", h.listAPIKeys).Methods(http.MethodGet)
	apiKeys.HandleFunc("", h.createAPIKey).Methods(http.MethodPost)
	apiKeys.HandleFunc("/{id}", h.getAPIKey).Methods(http.MethodGet)
	apiKeys.HandleFunc("/{id}", h.revokeAPIKey).Methods(http.MethodDelete)
	apiKeys.HandleFunc("/{id}/rotate", h.rotateAPIKey).Methods(http.MethodPost)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	var top http.Handler = r
	top = middleware.CORS(cfg.CORSOrigins)(top)
	top = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(top)
	return top
}

func rateLimited(cfg Config, limit cache.RouteLimit, next http.Handler) http.Handler {
	return middleware.RateLimit(cfg.RateLimiter, limit)(next)
}

func requireAuth(cfg Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler { return cfg.Auth.Require(next) }
}

func requireProjectScope(cfg Config) mux.MiddlewareFunc {
	return middleware.RequireProjectScope(cfg.ProjectScopes.Required, cfg.ProjectScopes.Allowed, cfg.Audit)
}

func apiWriteLimit(cfg Config) mux.MiddlewareFunc {
	return middleware.RateLimit(cfg.RateLimiter, rateLimits.APIWrite)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeAPIError(w, http.StatusNotFound, "not_found", "no such route")
}
