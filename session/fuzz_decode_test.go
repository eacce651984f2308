package session

import "testing"

// FuzzRecordDecode exercises the binary record decoder with arbitrary
// inputs. Goal: no panics, graceful error handling.
func FuzzRecordDecode(f *testing.F) {
	rec := &Record{
		SessionID:      "sid-fuzz",
		Subject:        "user1",
		Kind:           KindAdmin,
		Roles:          []string{"admin"},
		Fingerprint:    [32]byte{0xFF},
		CreatedAt:      1700000000,
		LastActivityAt: 1700000000,
		ExpiresAt:      1700003600,
	}
	encoded, err := Encode(rec)
	if err == nil {
		f.Add(encoded)
	}

	f.Add([]byte{})
	f.Add([]byte{0})
	f.Add([]byte{1})
	f.Add([]byte{255, 255, 255})

	if len(encoded) > 10 {
		f.Add(encoded[:10])
	}
	if len(encoded) > 40 {
		f.Add(encoded[:40])
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic. Errors are expected for malformed input.
		r, err := Decode(data)
		if err != nil {
			return
		}
		if r == nil {
			t.Fatal("Decode returned nil record without error")
		}
		if r.Subject == "" {
			t.Fatal("Decode accepted record with empty subject")
		}
	})
}
