package crypto

import (
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the work factor used to hash API keys at rest: at
// least 100,000 rounds of PBKDF2-SHA512, in line with current OWASP
// guidance for this primitive.
const PBKDF2Iterations = 100_000

const pbkdf2KeyLen = 64 // SHA-512 output size

// ErrMalformedKeyHash is returned when a stored "salt:hash" record cannot
// be parsed, which should only happen if the record was corrupted.
var ErrMalformedKeyHash = errors.New("apikey: malformed stored hash")

// HashAPIKey derives a PBKDF2-SHA512 hash of plaintext using a fresh random
// salt and returns it encoded as "salt:hash" (both base64url, unpadded) so
// a single TEXT column can store both without a second table column.
func HashAPIKey(plaintext string) (string, error) {
	salt, err := RandBytes(16)
	if err != nil {
		return "", err
	}
	return hashWithSalt(plaintext, salt), nil
}

func hashWithSalt(plaintext string, salt []byte) string {
	derived := pbkdf2.Key([]byte(plaintext), salt, PBKDF2Iterations, pbkdf2KeyLen, sha512.New)
	return fmt.Sprintf("%s:%s",
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(derived))
}

// VerifyAPIKey reports whether plaintext hashes, under the salt embedded in
// stored, to the same value as stored. The plaintext is never stored, so
// this recomputation is the only way to check a presented key against its
// at-rest record.
func VerifyAPIKey(plaintext, stored string) (bool, error) {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false, ErrMalformedKeyHash
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return false, ErrMalformedKeyHash
	}
	candidate := hashWithSalt(plaintext, salt)
	return ConstantTimeCompare(candidate, stored), nil
}
