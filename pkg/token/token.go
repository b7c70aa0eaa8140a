// Package token issues and verifies the gateway's access tokens: compact
// JWS, HMAC-signed with a single static secret loaded once at startup.
// There is no key rotation and no JWKS endpoint — the secret is shared
// out-of-band with services that need local verification.
package token

import (
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrExpired = errors.New("token: expired")
	ErrInvalid = errors.New("token: invalid")
)

// Claims is the access-token payload. Scope is space-delimited per RFC
// 6749; ProjectScope is additive to the OAuth2 spec and enforced by
// middleware, not by the JWT library.
type Claims struct {
	Subject      string   `json:"sub"`
	ClientID     string   `json:"client_id"`
	Scope        string   `json:"scope"`
	ProjectScope string   `json:"project_scope,omitempty"`
	ID           string   `json:"jti"`
	Audience     []string `json:"aud,omitempty"`
	IssuedAt     int64    `json:"iat"`
	ExpiresAt    int64    `json:"exp"`
}

// Signer issues and verifies HMAC-signed access tokens. It is immutable
// after construction and safe for concurrent use.
type Signer struct {
	signer jose.Signer
	secret []byte
	issuer string
}

// NewSigner builds a Signer from a shared secret. secret must be non-empty;
// callers read it from the JWT_SECRET environment variable at startup.
func NewSigner(secret []byte, issuer string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, err
	}
	return &Signer{signer: sig, secret: secret, issuer: issuer}, nil
}

// Issue signs claims and returns the compact JWS representation.
func (s *Signer) Issue(c Claims) (string, error) {
	builder := jwt.Signed(s.signer).Claims(jwtClaims(c, s.issuer)).Claims(c)
	return builder.Serialize()
}

// Verify parses and validates raw, checking the signature and the
// expiry, and returns the decoded claims.
func (s *Signer) Verify(raw string) (Claims, error) {
	parsed, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Claims{}, ErrInvalid
	}

	var c Claims
	if err := parsed.Claims(s.secret, &c); err != nil {
		return Claims{}, ErrInvalid
	}
	if c.ExpiresAt != 0 && time.Now().Unix() > c.ExpiresAt {
		return Claims{}, ErrExpired
	}
	return c, nil
}

func jwtClaims(c Claims, issuer string) jwt.Claims {
	claims := jwt.Claims{
		Subject:  c.Subject,
		ID:       c.ID,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)),
		Expiry:   jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)),
	}
	for _, aud := range c.Audience {
		claims.Audience = append(claims.Audience, aud)
	}
	return claims
}
