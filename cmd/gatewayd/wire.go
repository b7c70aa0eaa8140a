package main

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/nimbusid/authgateway/apikey"
	"github.com/nimbusid/authgateway/audit"
	"github.com/nimbusid/authgateway/cache"
	"github.com/nimbusid/authgateway/httpapi"
	"github.com/nimbusid/authgateway/middleware"
	"github.com/nimbusid/authgateway/oauth"
	"github.com/nimbusid/authgateway/pkg/log"
	"github.com/nimbusid/authgateway/pkg/token"
	"github.com/nimbusid/authgateway/session"
	"github.com/nimbusid/authgateway/storage"
	"github.com/nimbusid/authgateway/storage/postgres"
	"github.com/nimbusid/authgateway/storage/usersclient"
)

// app holds every long-lived dependency gatewayd needs, built once at
// startup and shared across requests.
type app struct {
	store  storage.Storage
	conn   *postgres.Conn
	cache  *cache.Cache
	router http.Handler
	logger log.Logger
}

func buildApp(c config) (*app, error) {
	logger := log.NewLogrusLogger(logrus.New())

	conn, err := postgres.OpenURL(c.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	var store storage.Storage = conn

	redisCache := cache.New(cache.Config{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, logger)
	limiter := cache.NewRateLimiter(redisCache)

	signer, err := token.NewSigner([]byte(c.JWTSecret), "authgateway")
	if err != nil {
		conn.Close()
		return nil, err
	}

	clock := clockwork.NewRealClock()
	oauthSvc := oauth.New(store, signer, clock)
	apiKeySvc := apikey.New(store, clock, c.APIKeyPrefixProduction)
	sessionSvc := session.New(store, redisCache, clock)
	usersClient := usersclient.New(c.UsersStoreURL, c.UsersStoreServiceRoleKey, nil)

	auditLogger := audit.New(logger)
	auth := middleware.NewAuthenticator(oauthSvc, apiKeySvc, logger, auditLogger)
	healthChecker := httpapi.NewHealthChecker(store)

	router := httpapi.NewRouter(httpapi.Config{
		Store:       store,
		OAuth:       oauthSvc,
		APIKeys:     apiKeySvc,
		Sessions:    sessionSvc,
		Users:       usersClient,
		Cache:       redisCache,
		RateLimiter: limiter,
		Auth:        auth,
		Audit:       auditLogger,
		Logger:      logger,
		CORSOrigins: c.CORSOrigins,
		ProjectScopes: httpapi.ProjectScopeConfig{
			Required: c.ProjectScopeRequired,
			Allowed:  c.ProjectScopeAllowed,
		},
		HealthChecker: healthChecker,
	})

	return &app{
		store:  store,
		conn:   conn,
		cache:  redisCache,
		router: router,
		logger: logger,
	}, nil
}

func (a *app) Close() {
	a.conn.Close()
	a.cache.Close()
}
