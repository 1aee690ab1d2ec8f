package oauth2

import "testing"

func TestVerifierShape(t *testing.T) {
	verifier, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("GenerateVerifier failed: %v", err)
	}
	// RFC 7636 requires 43 to 128 characters.
	if len(verifier) < 43 || len(verifier) > 128 {
		t.Errorf("verifier length = %d, want 43..128", len(verifier))
	}

	other, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("GenerateVerifier failed: %v", err)
	}
	if verifier == other {
		t.Error("two verifiers should differ")
	}
}

func TestChallengeRoundTrip(t *testing.T) {
	verifier, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("GenerateVerifier failed: %v", err)
	}

	challenge := Challenge(verifier)
	if challenge == verifier {
		t.Error("challenge should not equal the verifier")
	}
	if !VerifyChallenge(verifier, challenge) {
		t.Error("verifier should match its own challenge")
	}
	if VerifyChallenge("wrong", challenge) {
		t.Error("wrong verifier should not match")
	}
}

func TestChallengeKnownVector(t *testing.T) {
	// Appendix B of RFC 7636.
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	want := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	if got := Challenge(verifier); got != want {
		t.Errorf("Challenge = %q, want %q", got, want)
	}
}
