package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/nimbusid/authgateway/apikey"
	"github.com/nimbusid/authgateway/audit"
	"github.com/nimbusid/authgateway/middleware"
	"github.com/nimbusid/authgateway/oauth"
	"github.com/nimbusid/authgateway/pkg/log"
	"github.com/nimbusid/authgateway/pkg/token"
	"github.com/nimbusid/authgateway/storage/memory"
)

func testLogger() log.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return log.NewLogrusLogger(l)
}

func newSigner(t *testing.T) *token.Signer {
	t.Helper()
	s, err := token.NewSigner([]byte("test-secret-test-secret"), "authgateway")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func bearerFor(t *testing.T, signer *token.Signer, claims token.Claims) string {
	t.Helper()
	raw, err := signer.Issue(claims)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return raw
}

func TestRequireAllowsValidBearerAndSetsPrincipal(t *testing.T) {
	store := memory.New()
	signer := newSigner(t)
	clock := clockwork.NewFakeClock()
	oauthSvc := oauth.New(store, signer, clock)
	apiKeySvc := apikey.New(store, clock, "ak_test_")
	auditLogger := audit.New(testLogger())

	auth := middleware.NewAuthenticator(oauthSvc, apiKeySvc, testLogger(), auditLogger)

	var gotPrincipal middleware.Principal
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := middleware.PrincipalFromContext(r.Context())
		gotPrincipal = p
		w.WriteHeader(http.StatusOK)
	})

	raw := bearerFor(t, signer, token.Claims{
		Subject:      "user-1",
		ClientID:     "client-1",
		Scope:        "read",
		ProjectScope: "alpha",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/clients", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()

	auth.Require(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotPrincipal.Subject != "user-1" || gotPrincipal.Via != "bearer" {
		t.Errorf("unexpected principal: %+v", gotPrincipal)
	}
}

func TestRequireRejectsMissingCredentials(t *testing.T) {
	store := memory.New()
	signer := newSigner(t)
	clock := clockwork.NewFakeClock()
	oauthSvc := oauth.New(store, signer, clock)
	apiKeySvc := apikey.New(store, clock, "ak_test_")
	auditLogger := audit.New(testLogger())

	auth := middleware.NewAuthenticator(oauthSvc, apiKeySvc, testLogger(), auditLogger)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/v1/clients", nil)
	rec := httptest.NewRecorder()

	auth.Require(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if called {
		t.Error("next handler must not run on a denied request")
	}
}

func TestRequireProjectScopeAllowsMatchingScope(t *testing.T) {
	store := memory.New()
	signer := newSigner(t)
	clock := clockwork.NewFakeClock()
	oauthSvc := oauth.New(store, signer, clock)
	apiKeySvc := apikey.New(store, clock, "ak_test_")
	auditLogger := audit.New(testLogger())
	auth := middleware.NewAuthenticator(oauthSvc, apiKeySvc, testLogger(), auditLogger)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true; w.WriteHeader(http.StatusOK) })
	chain := auth.Require(middleware.RequireProjectScope(true, []string{"alpha", "beta"}, auditLogger)(next))

	raw := bearerFor(t, signer, token.Claims{
		Subject:      "user-1",
		ProjectScope: "alpha",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/clients", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()

	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected request to pass through, got %d", rec.Code)
	}
	if !called {
		t.Error("expected next handler to run")
	}
}

func TestRequireProjectScopeDeniesMismatch(t *testing.T) {
	store := memory.New()
	signer := newSigner(t)
	clock := clockwork.NewFakeClock()
	oauthSvc := oauth.New(store, signer, clock)
	apiKeySvc := apikey.New(store, clock, "ak_test_")
	auditLogger := audit.New(testLogger())
	auth := middleware.NewAuthenticator(oauthSvc, apiKeySvc, testLogger(), auditLogger)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	chain := auth.Require(middleware.RequireProjectScope(true, []string{"beta"}, auditLogger)(next))

	raw := bearerFor(t, signer, token.Claims{
		Subject:      "user-1",
		ProjectScope: "alpha",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/clients", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()

	chain.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if called {
		t.Error("next handler must not run on a project_scope violation")
	}
}
