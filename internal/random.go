// Package internal holds identifier and fingerprint primitives shared by the
// token and session layers.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SessionID is a 16-byte random identifier, rendered as unpadded base64url.
type SessionID [16]byte

// NewSessionID returns a fresh random session identifier.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID decodes the string form produced by [SessionID.String].
func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// Fingerprint derives the stored fingerprint of a presented refresh token.
// Only the digest ever reaches Redis; the raw token never leaves the caller.
func Fingerprint(rawToken string) [32]byte {
	return sha256.Sum256([]byte(rawToken))
}
