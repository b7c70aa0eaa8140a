package crypto

import "testing"

func TestNewOpaqueTokenIsUnique(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	b, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if a == b {
		t.Error("two opaque tokens collided, entropy source is broken")
	}
}

func TestHashTokenIsDeterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("HashToken must be deterministic for the same input")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("HashToken must differ for different input")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	if !ConstantTimeCompare("same", "same") {
		t.Error("want true for equal strings")
	}
	if ConstantTimeCompare("same", "diff") {
		t.Error("want false for different same-length strings")
	}
	if ConstantTimeCompare("short", "muchlonger") {
		t.Error("want false for different-length strings")
	}
}
