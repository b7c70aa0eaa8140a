package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// OpaqueTokenBytes is the byte length used for opaque refresh tokens and
// access-token jti values before base64url encoding, chosen so the encoded
// string carries comfortably more than 256 bits of entropy.
const OpaqueTokenBytes = 48

// NewOpaqueToken returns a cryptographically random, base64url (no padding)
// encoded opaque token suitable for refresh tokens, authorization codes,
// CSRF tokens and JWT jti claims.
func NewOpaqueToken() (string, error) {
	b, err := RandBytes(OpaqueTokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the SHA-256 hash of an opaque token, hex-free and
// base64url encoded, for at-rest storage of authorization codes and
// refresh tokens. The plaintext is never persisted; only this hash is.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ConstantTimeCompare reports whether a and b are equal using a
// constant-time comparison, so that response timing does not leak the
// first point of divergence between a caller-supplied secret and the
// stored value.
func ConstantTimeCompare(a, b string) bool {
	if len(a) != len(b) {
		// Still run a comparison against a same-length buffer so callers
		// that branch only on the bool cannot use response time to learn
		// the length mismatch any earlier than this check.
		subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
