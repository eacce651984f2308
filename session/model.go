package session

// Record is the server-side state of one authenticated session. The
// fingerprint is the SHA-256 digest of the currently valid refresh token;
// the raw token is never stored.
type Record struct {
	SessionID string

	Subject string
	Kind    uint8
	Roles   []string

	Fingerprint [32]byte

	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64
}

// Session kind bytes as stored on the wire.
const (
	KindUser  uint8 = 0
	KindGuest uint8 = 1
	KindAdmin uint8 = 2
)
