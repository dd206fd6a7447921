package signing

import "testing"

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("audio/j1.mp3", 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("audio/j1.mp3", "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("audio/other.mp3", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong key")
	}
	if s.Validate("audio/j1.mp3", "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate("audio/j1.mp3", "not-a-number", sig) {
		t.Fatalf("expected validation to fail for junk expiry")
	}
}

func TestSignerSecretMatters(t *testing.T) {
	sig := NewSigner([]byte("one")).Sign("audio/j1.mp3", 1700000000)
	if NewSigner([]byte("two")).Validate("audio/j1.mp3", "1700000000", sig) {
		t.Fatalf("expected validation to fail across secrets")
	}
}
