package internal

import "testing"

func TestSessionIDRoundTrip(t *testing.T) {
	sid, err := NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID: %v", err)
	}

	encoded := sid.String()
	if encoded == "" {
		t.Fatal("expected non-empty encoding")
	}

	parsed, err := ParseSessionID(encoded)
	if err != nil {
		t.Fatalf("ParseSessionID: %v", err)
	}
	if parsed != sid {
		t.Fatal("round trip mismatch")
	}
}

func TestSessionIDsUnique(t *testing.T) {
	seen := make(map[SessionID]bool, 1000)
	for i := 0; i < 1000; i++ {
		sid, err := NewSessionID()
		if err != nil {
			t.Fatalf("NewSessionID: %v", err)
		}
		if seen[sid] {
			t.Fatal("duplicate session id")
		}
		seen[sid] = true
	}
}

func TestParseSessionIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"short",
		"!!!not-base64!!!",
		"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", // too long
	}
	for _, in := range cases {
		if _, err := ParseSessionID(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("token-a")
	b := Fingerprint("token-a")
	c := Fingerprint("token-b")

	if a != b {
		t.Fatal("same input produced different fingerprints")
	}
	if a == c {
		t.Fatal("different inputs collided")
	}
}
