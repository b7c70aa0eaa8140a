// Package httpapi wires the gateway's domain services into HTTP routes:
// the OAuth2 endpoints, the API-key and client management surface, login
// delegation to the Users store, and health/metrics.
package httpapi

import (
	"time"

	gosundheit "github.com/AppsFlyer/go-sundheit"

	"github.com/nimbusid/authgateway/apikey"
	"github.com/nimbusid/authgateway/audit"
	"github.com/nimbusid/authgateway/cache"
	"github.com/nimbusid/authgateway/middleware"
	"github.com/nimbusid/authgateway/oauth"
	"github.com/nimbusid/authgateway/session"
	"github.com/nimbusid/authgateway/storage"
	"github.com/nimbusid/authgateway/storage/usersclient"

	"github.com/nimbusid/authgateway/pkg/log"
)

// Config carries every dependency Router needs. Construction and
// dependency wiring happen in cmd/gatewayd; this package only consumes
// already-built services.
type Config struct {
	Store         storage.Storage
	OAuth         *oauth.Service
	APIKeys       *apikey.Service
	Sessions      *session.Service
	Users         *usersclient.Client
	Cache         *cache.Cache
	RateLimiter   *cache.RateLimiter
	Auth          *middleware.Authenticator
	Audit         *audit.Logger
	Logger        log.Logger
	CORSOrigins   []string
	ProjectScopes ProjectScopeConfig
	HealthChecker gosundheit.Health
}

// ProjectScopeConfig controls middleware.RequireProjectScope for the
// management API.
type ProjectScopeConfig struct {
	Required bool
	Allowed  []string
}

// rateLimits names the per-route token buckets enforced at the edge. The
// token endpoint and login endpoints are the two most attractive
// credential-stuffing targets, so they get the tightest buckets.
var rateLimits = struct {
	Token    cache.RouteLimit
	Login    cache.RouteLimit
	Default  cache.RouteLimit
	APIWrite cache.RouteLimit
}{
	Token:    cache.RouteLimit{Name: "token", Capacity: 30, Window: time.Minute},
	Login:    cache.RouteLimit{Name: "login", Capacity: 10, Window: time.Minute},
	Default:  cache.RouteLimit{Name: "default", Capacity: 300, Window: time.Minute},
	APIWrite: cache.RouteLimit{Name: "api_write", Capacity: 60, Window: time.Minute},
}
