package crypto

import "testing"

func TestDeriveAndVerifyChallengeS256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	got, err := DeriveChallenge(verifier, PKCEMethodS256)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	if got != want {
		t.Errorf("DeriveChallenge(%q) = %q, want %q", verifier, got, want)
	}

	ok, err := VerifyChallenge(verifier, got, PKCEMethodS256)
	if err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}
	if !ok {
		t.Error("VerifyChallenge: want true for matching verifier/challenge")
	}
}

func TestVerifyChallengeRejectsTamperedVerifier(t *testing.T) {
	challenge, err := DeriveChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk", PKCEMethodS256)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}

	tampered := "WRONGVERIFIER000000000000000000000000000042"
	ok, err := VerifyChallenge(tampered, challenge, PKCEMethodS256)
	if err != nil {
		t.Fatalf("VerifyChallenge: %v", err)
	}
	if ok {
		t.Error("VerifyChallenge: want false for tampered verifier")
	}
}

func TestValidateVerifierBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr bool
	}{
		{"too short by one", 42, true},
		{"minimum accepted", 43, false},
		{"maximum accepted", 128, false},
		{"too long by one", 129, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := make([]byte, tt.length)
			for i := range v {
				v[i] = 'a'
			}
			err := ValidateVerifier(string(v))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateVerifier(len=%d) error = %v, wantErr %v", tt.length, err, tt.wantErr)
			}
		})
	}
}

func TestDeriveChallengePlain(t *testing.T) {
	verifier := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"
	got, err := DeriveChallenge(verifier, PKCEMethodPlain)
	if err != nil {
		t.Fatalf("DeriveChallenge: %v", err)
	}
	if got != verifier {
		t.Errorf("plain challenge = %q, want verifier unchanged %q", got, verifier)
	}
}

func TestDeriveChallengeUnsupportedMethod(t *testing.T) {
	verifier := "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"
	if _, err := DeriveChallenge(verifier, "md5"); err != ErrUnsupportedChallengeMethod {
		t.Errorf("got err %v, want ErrUnsupportedChallengeMethod", err)
	}
}
