package crypto

import "testing"

func TestHashAndVerifyAPIKeyRoundTrip(t *testing.T) {
	hash, err := HashAPIKey("sk_live_0123abcd.secretpart")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}

	ok, err := VerifyAPIKey("sk_live_0123abcd.secretpart", hash)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if !ok {
		t.Error("VerifyAPIKey: want true for the key returned at creation")
	}
}

func TestVerifyAPIKeyRejectsWrongPlaintext(t *testing.T) {
	hash, err := HashAPIKey("sk_live_0123abcd.secretpart")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}

	ok, err := VerifyAPIKey("sk_live_0123abcd.wrongsecret", hash)
	if err != nil {
		t.Fatalf("VerifyAPIKey: %v", err)
	}
	if ok {
		t.Error("VerifyAPIKey: want false for anything_else")
	}
}

func TestVerifyAPIKeyMalformedStoredHash(t *testing.T) {
	if _, err := VerifyAPIKey("whatever", "not-a-valid-record"); err != ErrMalformedKeyHash {
		t.Errorf("got err %v, want ErrMalformedKeyHash", err)
	}
}

func TestHashAPIKeyUsesFreshSalt(t *testing.T) {
	a, err := HashAPIKey("same-plaintext")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	b, err := HashAPIKey("same-plaintext")
	if err != nil {
		t.Fatalf("HashAPIKey: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same plaintext must differ (distinct salts)")
	}
}
