package oauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbusid/authgateway/oauth"
	"github.com/nimbusid/authgateway/pkg/crypto"
	"github.com/nimbusid/authgateway/pkg/token"
	"github.com/nimbusid/authgateway/storage"
	"github.com/nimbusid/authgateway/storage/memory"
)

func newService(t *testing.T) (*oauth.Service, storage.Storage, clockwork.FakeClock) {
	t.Helper()
	store := memory.New()
	signer, err := token.NewSigner([]byte("test-secret-long-enough-for-hmac"), "authgateway-test")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	// Start the fake clock at the current time: token.Signer.Verify checks
	// expiry against the wall clock, so tokens issued by the service must
	// not already be expired in real time.
	clock := clockwork.NewFakeClockAt(time.Now())
	return oauth.New(store, signer, clock), store, clock
}

func mustCreateClient(t *testing.T, store storage.Storage, c storage.Client) {
	t.Helper()
	if err := store.CreateClient(context.Background(), c); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
}

func TestAuthorizationCodeGrantWithPKCE(t *testing.T) {
	svc, store, clock := newService(t)
	mustCreateClient(t, store, storage.Client{
		ID:           "client-1",
		Public:       true,
		RedirectURIs: []string{"https://app.example/callback"},
		GrantTypes:   []string{"authorization_code"},
		Scopes:       []string{"read"},
		RequirePKCE:  true,
		CreatedAt:    clock.Now(),
	})

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge, err := crypto.DeriveChallenge(verifier, crypto.PKCEMethodS256)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}

	code, err := svc.Authorize(context.Background(), oauth.AuthorizeParams{
		ClientID:            "client-1",
		RedirectURI:         "https://app.example/callback",
		Scopes:              []string{"read"},
		Subject:             "user-1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: crypto.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	resp, err := svc.ExchangeAuthCode(context.Background(), oauth.ExchangeAuthCodeParams{
		Code:         code,
		ClientID:     "client-1",
		RedirectURI:  "https://app.example/callback",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("ExchangeAuthCode: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", resp)
	}

	if _, err := svc.ExchangeAuthCode(context.Background(), oauth.ExchangeAuthCodeParams{
		Code:         code,
		ClientID:     "client-1",
		RedirectURI:  "https://app.example/callback",
		CodeVerifier: verifier,
	}); err == nil {
		t.Fatal("expected reuse of consumed authorization code to fail")
	}
}

func TestExchangeAuthCodeRejectsBadVerifier(t *testing.T) {
	svc, store, clock := newService(t)
	mustCreateClient(t, store, storage.Client{
		ID:           "client-1",
		Public:       true,
		RedirectURIs: []string{"https://app.example/callback"},
		GrantTypes:   []string{"authorization_code"},
		RequirePKCE:  true,
		CreatedAt:    clock.Now(),
	})

	challenge, _ := crypto.DeriveChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk", crypto.PKCEMethodS256)
	code, err := svc.Authorize(context.Background(), oauth.AuthorizeParams{
		ClientID:            "client-1",
		RedirectURI:         "https://app.example/callback",
		Subject:             "user-1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: crypto.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	_, err = svc.ExchangeAuthCode(context.Background(), oauth.ExchangeAuthCodeParams{
		Code:         code,
		ClientID:     "client-1",
		RedirectURI:  "https://app.example/callback",
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verif",
	})
	var oe *oauth.Error
	if !errors.As(err, &oe) || oe.Code != "invalid_grant" {
		t.Fatalf("want invalid_grant, got %v", err)
	}
}

func TestRefreshTokenReuseRevokesFamily(t *testing.T) {
	svc, store, clock := newService(t)
	mustCreateClient(t, store, storage.Client{
		ID:           "client-1",
		Public:       true,
		RedirectURIs: []string{"https://app.example/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token"},
		CreatedAt:    clock.Now(),
	})

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge, err := crypto.DeriveChallenge(verifier, crypto.PKCEMethodS256)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	code, err := svc.Authorize(context.Background(), oauth.AuthorizeParams{
		ClientID:            "client-1",
		RedirectURI:         "https://app.example/callback",
		Subject:             "user-1",
		CodeChallenge:       challenge,
		CodeChallengeMethod: crypto.PKCEMethodS256,
	})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	first, err := svc.ExchangeAuthCode(context.Background(), oauth.ExchangeAuthCodeParams{
		Code:         code,
		ClientID:     "client-1",
		RedirectURI:  "https://app.example/callback",
		CodeVerifier: verifier,
	})
	if err != nil {
		t.Fatalf("ExchangeAuthCode: %v", err)
	}

	clock.Advance(time.Minute)
	rotated, err := svc.Refresh(context.Background(), oauth.RefreshParams{
		RefreshToken: first.RefreshToken,
		ClientID:     "client-1",
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == first.RefreshToken {
		t.Fatal("expected a new refresh token on rotation")
	}

	// Reusing the now-superseded first refresh token is theft: it must
	// fail, and the rotated token must stop working too.
	if _, err := svc.Refresh(context.Background(), oauth.RefreshParams{
		RefreshToken: first.RefreshToken,
		ClientID:     "client-1",
	}); err == nil {
		t.Fatal("expected reuse of superseded refresh token to fail")
	}

	if _, err := svc.Refresh(context.Background(), oauth.RefreshParams{
		RefreshToken: rotated.RefreshToken,
		ClientID:     "client-1",
	}); err == nil {
		t.Fatal("expected the whole family to be revoked after reuse is detected")
	}
}

func TestClientCredentialsGrant(t *testing.T) {
	svc, store, clock := newService(t)
	mustCreateClient(t, store, storage.Client{
		ID:            "svc-client",
		SecretHash:    mustHash(t, "s3cr3t"),
		GrantTypes:    []string{"client_credentials"},
		MachineScopes: []string{"ingest:write"},
		CreatedAt:     clock.Now(),
	})

	resp, err := svc.ClientCredentials(context.Background(), oauth.ClientCredentialsParams{
		ClientID:     "svc-client",
		ClientSecret: "s3cr3t",
	})
	if err != nil {
		t.Fatalf("ClientCredentials: %v", err)
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials must not issue a refresh token")
	}

	result := svc.IntrospectAccessToken(resp.AccessToken)
	if !result.Active || result.ClientID != "svc-client" {
		t.Errorf("introspection mismatch: %+v", result)
	}
}

func mustHash(t *testing.T, plaintext string) string {
	t.Helper()
	h, err := crypto.HashAPIKey(plaintext)
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	return h
}
