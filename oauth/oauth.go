// Package oauth implements the authorization-code (with PKCE),
// refresh-token, and client_credentials grants, plus introspection and
// revocation, against the storage.Storage/Tx contract.
package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nimbusid/authgateway/eventstore"
	"github.com/nimbusid/authgateway/pkg/crypto"
	"github.com/nimbusid/authgateway/pkg/token"
	"github.com/nimbusid/authgateway/storage"
)

// Error is a RFC 6749 token-endpoint error envelope: {"error": ...,
// "error_description": ...}.
type Error struct {
	Code        string // e.g. "invalid_grant", "invalid_client", "invalid_request"
	Description string
}

func (e *Error) Error() string { return e.Code + ": " + e.Description }

func errOf(code, desc string) *Error { return &Error{Code: code, Description: desc} }

const (
	AccessTokenTTL  = 1 * time.Hour
	AuthCodeTTL     = 10 * time.Minute
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Service implements the OAuth2 grants. One Service per process, shared
// across requests.
type Service struct {
	store  storage.Storage
	signer *token.Signer
	clock  clockwork.Clock
}

func New(store storage.Storage, signer *token.Signer, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{store: store, signer: signer, clock: clock}
}

// TokenResponse is the successful RFC 6749 §5.1 token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
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

func (s *Service) issueAccessToken(clientID, subject, projectScope string, scopes []string) (string, string, error) {
	jti := storage.NewID()
	now := s.clock.Now().UTC()
	raw, err := s.signer.Issue(token.Claims{
		Subject:      subject,
		ClientID:     clientID,
		Scope:        joinScopes(scopes),
		ProjectScope: projectScope,
		ID:           jti,
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(AccessTokenTTL).Unix(),
	})
	return raw, jti, err
}

// AuthorizeParams are the GET /authorize parameters passed to Authorize,
// which validates client/redirect_uri/PKCE parameters and, on success,
// persists the pending authorization code. Authorize renders no UI; the
// caller (httpapi) calls it once the subject is known.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	ProjectScope        string
	Subject             string
	CodeChallenge       string
	CodeChallengeMethod string
}

func (s *Service) Authorize(ctx context.Context, p AuthorizeParams) (code string, err error) {
	client, err := s.store.GetClient(ctx, p.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", errOf("invalid_client", "unknown client_id")
		}
		return "", err
	}
	if !client.HasRedirectURI(p.RedirectURI) {
		return "", errOf("invalid_request", "redirect_uri not registered for client")
	}
	if !client.HasGrantType("authorization_code") {
		return "", errOf("unauthorized_client", "client not authorized for authorization_code grant")
	}
	for _, sc := range p.Scopes {
		if !client.HasScope(sc) {
			return "", errOf("invalid_scope", "scope not registered for client: "+sc)
		}
	}

	if client.RequirePKCE || client.Public {
		if p.CodeChallenge == "" {
			return "", errOf("invalid_request", "code_challenge required")
		}
		method := p.CodeChallengeMethod
		if method == "" {
			method = crypto.PKCEMethodS256
		}
		if method == crypto.PKCEMethodPlain && !client.AllowPlainPKCE {
			return "", errOf("invalid_request", "plain code_challenge_method not allowed for this client")
		}
	}

	plaintext, err := crypto.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	now := s.clock.Now().UTC()
	ac := storage.AuthorizationCode{
		CodeHash:     crypto.HashToken(plaintext),
		ClientID:     p.ClientID,
		RedirectURI:  p.RedirectURI,
		Scopes:       p.Scopes,
		ProjectScope: p.ProjectScope,
		PKCE: storage.PKCE{
			CodeChallenge:       p.CodeChallenge,
			CodeChallengeMethod: p.CodeChallengeMethod,
		},
		Subject:   p.Subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(AuthCodeTTL),
	}
	if err := s.store.CreateAuthCode(ctx, ac); err != nil {
		return "", err
	}
	return plaintext, nil
}

// ExchangeAuthCodeParams are the token-endpoint parameters for
// grant_type=authorization_code.
type ExchangeAuthCodeParams struct {
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
	Metadata     storage.EventMetadata
}

func (s *Service) ExchangeAuthCode(ctx context.Context, p ExchangeAuthCodeParams) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, p.ClientID, p.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	codeHash := crypto.HashToken(p.Code)
	var resp TokenResponse
	now := s.clock.Now().UTC()

	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		ac, err := tx.ConsumeAuthCode(codeHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAlreadyExists) {
				return errOf("invalid_grant", "authorization code invalid, expired, or already used")
			}
			return err
		}
		if ac.ClientID != client.ID {
			return errOf("invalid_grant", "authorization code was not issued to this client")
		}
		if ac.RedirectURI != p.RedirectURI {
			return errOf("invalid_grant", "redirect_uri does not match the authorization request")
		}
		if now.After(ac.ExpiresAt) {
			return errOf("invalid_grant", "authorization code expired")
		}

		if ac.PKCE.CodeChallenge != "" {
			ok, err := crypto.VerifyChallenge(p.CodeVerifier, ac.PKCE.CodeChallenge, ac.PKCE.CodeChallengeMethod)
			if err != nil || !ok {
				return errOf("invalid_grant", "code_verifier does not match code_challenge")
			}
		}

		accessToken, jti, err := s.issueAccessToken(client.ID, ac.Subject, ac.ProjectScope, ac.Scopes)
		if err != nil {
			return err
		}

		refreshPlain, err := crypto.NewOpaqueToken()
		if err != nil {
			return err
		}
		familyID := storage.NewID()
		if err := tx.CreateRefreshToken(storage.RefreshToken{
			TokenHash:    crypto.HashToken(refreshPlain),
			FamilyID:     familyID,
			ClientID:     client.ID,
			Subject:      ac.Subject,
			Scopes:       ac.Scopes,
			ProjectScope: ac.ProjectScope,
			ParentJTI:    jti,
			Rotation:     0,
			IssuedAt:     now,
		}); err != nil {
			return err
		}

		if _, _, err := eventstore.Append(tx, eventstore.AppendParams{
			AggregateType: "oauth_token",
			AggregateID:   familyID,
			EventType:     "token.issued",
			Payload: map[string]any{
				"client_id": client.ID,
				"subject":   ac.Subject,
				"grant":     "authorization_code",
			},
			Metadata:   p.Metadata,
			OccurredAt: now,
		}); err != nil {
			return err
		}

		resp = TokenResponse{
			AccessToken:  accessToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(AccessTokenTTL.Seconds()),
			RefreshToken: refreshPlain,
			Scope:        joinScopes(ac.Scopes),
		}
		return nil
	})
	if err != nil {
		return TokenResponse{}, err
	}
	return resp, nil
}

// RefreshParams are the token-endpoint parameters for
// grant_type=refresh_token.
type RefreshParams struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	Metadata     storage.EventMetadata
}

// Refresh rotates a refresh token. Presenting a token that was already
// superseded by an earlier rotation is treated as theft: the whole
// rotation family is revoked and the caller gets invalid_grant, matching
// every other outcome of a bad refresh token so family state is never
// leaked through response shape.
func (s *Service) Refresh(ctx context.Context, p RefreshParams) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, p.ClientID, p.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}

	tokenHash := crypto.HashToken(p.RefreshToken)
	now := s.clock.Now().UTC()
	var resp TokenResponse
	var reusedFamily string

	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		old, err := tx.GetRefreshTokenByHash(tokenHash)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return errOf("invalid_grant", "refresh token unknown")
			}
			return err
		}
		if old.ClientID != client.ID {
			return errOf("invalid_grant", "refresh token was not issued to this client")
		}
		if old.Revoked {
			return errOf("invalid_grant", "refresh token family revoked")
		}
		if old.Superseded {
			// Reuse of a rotated-away token: fail closed. The family is
			// revoked below, outside this transaction, so the error
			// returned here does not roll the revocation back.
			reusedFamily = old.FamilyID
			return errOf("invalid_grant", "refresh token already used")
		}

		accessToken, jti, err := s.issueAccessToken(client.ID, old.Subject, old.ProjectScope, old.Scopes)
		if err != nil {
			return err
		}
		refreshPlain, err := crypto.NewOpaqueToken()
		if err != nil {
			return err
		}
		next := storage.RefreshToken{
			TokenHash:    crypto.HashToken(refreshPlain),
			FamilyID:     old.FamilyID,
			ClientID:     client.ID,
			Subject:      old.Subject,
			Scopes:       old.Scopes,
			ProjectScope: old.ProjectScope,
			ParentJTI:    jti,
			Rotation:     old.Rotation + 1,
			IssuedAt:     now,
		}
		if err := tx.RotateRefreshToken(tokenHash, next); err != nil {
			return err
		}

		if _, _, err := eventstore.Append(tx, eventstore.AppendParams{
			AggregateType: "oauth_token",
			AggregateID:   old.FamilyID,
			EventType:     "token.rotated",
			Payload: map[string]any{
				"client_id": client.ID,
				"subject":   old.Subject,
				"rotation":  next.Rotation,
			},
			Metadata:   p.Metadata,
			OccurredAt: now,
		}); err != nil {
			return err
		}

		resp = TokenResponse{
			AccessToken:  accessToken,
			TokenType:    "Bearer",
			ExpiresIn:    int64(AccessTokenTTL.Seconds()),
			RefreshToken: refreshPlain,
			Scope:        joinScopes(old.Scopes),
		}
		return nil
	})
	if err != nil {
		if reusedFamily != "" {
			if rerr := s.store.RevokeRefreshFamily(ctx, reusedFamily); rerr != nil {
				return TokenResponse{}, rerr
			}
		}
		return TokenResponse{}, err
	}
	return resp, nil
}

// ClientCredentialsParams are the token-endpoint parameters for
// grant_type=client_credentials.
type ClientCredentialsParams struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	Metadata     storage.EventMetadata
}

// ClientCredentials issues a machine access token with no refresh token:
// the client simply re-authenticates for its next token.
func (s *Service) ClientCredentials(ctx context.Context, p ClientCredentialsParams) (TokenResponse, error) {
	client, err := s.authenticateClient(ctx, p.ClientID, p.ClientSecret)
	if err != nil {
		return TokenResponse{}, err
	}
	if !client.HasGrantType("client_credentials") {
		return TokenResponse{}, errOf("unauthorized_client", "client not authorized for client_credentials grant")
	}

	scopes := p.Scopes
	if len(scopes) == 0 {
		scopes = client.MachineScopes
	}
	for _, sc := range scopes {
		allowed := false
		for _, ms := range client.MachineScopes {
			if ms == sc {
				allowed = true
				break
			}
		}
		if !allowed {
			return TokenResponse{}, errOf("invalid_scope", "scope not available under client_credentials: "+sc)
		}
	}

	accessToken, _, err := s.issueAccessToken(client.ID, client.ID, client.ProjectScope, scopes)
	if err != nil {
		return TokenResponse{}, err
	}

	_ = s.store.WithTx(ctx, func(tx storage.Tx) error {
		_, _, err := eventstore.Append(tx, eventstore.AppendParams{
			AggregateType: "oauth_token",
			AggregateID:   client.ID,
			EventType:     "token.issued",
			Payload: map[string]any{
				"client_id": client.ID,
				"grant":     "client_credentials",
			},
			Metadata:   p.Metadata,
			OccurredAt: s.clock.Now().UTC(),
		})
		return err
	})

	return TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(AccessTokenTTL.Seconds()),
		Scope:       joinScopes(scopes),
	}, nil
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Client{}, errOf("invalid_client", "unknown client_id")
		}
		return storage.Client{}, err
	}
	if client.Public {
		return client, nil
	}
	ok, err := crypto.VerifyAPIKey(clientSecret, client.SecretHash)
	if err != nil || !ok {
		return storage.Client{}, errOf("invalid_client", "client authentication failed")
	}
	return client, nil
}

// IntrospectionResult is the RFC 7662 response body.
type IntrospectionResult struct {
	Active       bool     `json:"active"`
	Scope        string   `json:"scope,omitempty"`
	ClientID     string   `json:"client_id,omitempty"`
	Subject      string   `json:"sub,omitempty"`
	ProjectScope string   `json:"project_scope,omitempty"`
	ExpiresAt    int64    `json:"exp,omitempty"`
	IssuedAt     int64    `json:"iat,omitempty"`
	TokenType    string   `json:"token_type,omitempty"`
	Audience     []string `json:"aud,omitempty"`
}

// IntrospectRefreshToken answers RFC 7662 introspection for a refresh
// token: the local store is authoritative since refresh tokens are opaque.
func (s *Service) IntrospectRefreshToken(ctx context.Context, raw string) (IntrospectionResult, error) {
	rt, err := s.store.GetRefreshTokenByHash(ctx, crypto.HashToken(raw))
	if err != nil || rt.Revoked || rt.Superseded {
		return IntrospectionResult{Active: false}, nil
	}
	return IntrospectionResult{
		Active:       true,
		Scope:        joinScopes(rt.Scopes),
		ClientID:     rt.ClientID,
		Subject:      rt.Subject,
		ProjectScope: rt.ProjectScope,
		IssuedAt:     rt.IssuedAt.Unix(),
		TokenType:    "refresh_token",
	}, nil
}

// IntrospectAccessToken answers RFC 7662 introspection for an access token
// by verifying its signature and expiry locally — no storage lookup, since
// access tokens are self-contained JWTs.
func (s *Service) IntrospectAccessToken(raw string) IntrospectionResult {
	claims, err := s.signer.Verify(raw)
	if err != nil {
		return IntrospectionResult{Active: false}
	}
	return IntrospectionResult{
		Active:       true,
		Scope:        claims.Scope,
		ClientID:     claims.ClientID,
		Subject:      claims.Subject,
		ProjectScope: claims.ProjectScope,
		ExpiresAt:    claims.ExpiresAt,
		IssuedAt:     claims.IssuedAt,
		TokenType:    "access_token",
		Audience:     claims.Audience,
	}
}

// RevokeRefreshToken implements RFC 7009-style revocation for a refresh
// token: revoking one token revokes its entire rotation family, since any
// token in the family attests to the same underlying grant.
func (s *Service) RevokeRefreshToken(ctx context.Context, raw string) error {
	rt, err := s.store.GetRefreshTokenByHash(ctx, crypto.HashToken(raw))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// RFC 7009: revoking an unknown token is not an error.
			return nil
		}
		return err
	}
	return s.store.RevokeRefreshFamily(ctx, rt.FamilyID)
}
