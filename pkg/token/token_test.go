package token

import (
	"testing"
	"time"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner([]byte("a-very-secret-test-key-that-is-long-enough"), "authgateway-test")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	s := testSigner(t)
	now := time.Now()
	want := Claims{
		Subject:      "user-1",
		ClientID:     "client-1",
		Scope:        "read write",
		ProjectScope: "proj-a",
		ID:           "jti-1",
		IssuedAt:     now.Unix(),
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}

	raw, err := s.Issue(want)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	got, err := s.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Subject != want.Subject || got.ClientID != want.ClientID || got.Scope != want.Scope || got.ProjectScope != want.ProjectScope {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	s := testSigner(t)
	now := time.Now()
	raw, err := s.Issue(Claims{
		Subject:   "user-1",
		IssuedAt:  now.Add(-2 * time.Hour).Unix(),
		ExpiresAt: now.Add(-time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := s.Verify(raw); err != ErrExpired {
		t.Errorf("Verify: got %v, want ErrExpired", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	s := testSigner(t)
	raw, err := s.Issue(Claims{Subject: "user-1", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewSigner([]byte("a-totally-different-secret-value-long-enough"), "authgateway-test")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if _, err := other.Verify(raw); err != ErrInvalid {
		t.Errorf("Verify: got %v, want ErrInvalid", err)
	}
}

func TestNewSignerRejectsEmptySecret(t *testing.T) {
	if _, err := NewSigner(nil, "authgateway-test"); err == nil {
		t.Error("want error for empty secret")
	}
}
