package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/relife-labs/authcore/internal/audit"
)

// Kind classifies the login instance backing a session. The three kinds mirror
// the session registry of the original backend: regular users, ephemeral
// guests, and administrators.
type Kind uint8

const (
	// KindUser marks a session created by credential or OAuth2 login.
	KindUser Kind = iota
	// KindGuest marks an ephemeral session created by LoginGuest.
	KindGuest
	// KindAdmin marks a session created for an administrative identity.
	KindAdmin
)

// String returns the lowercase wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindAdmin:
		return "admin"
	default:
		return "user"
	}
}

// ParseKind maps a wire name back to a [Kind]. Unknown values map to KindUser.
func ParseKind(s string) Kind {
	switch s {
	case "guest":
		return KindGuest
	case "admin":
		return KindAdmin
	default:
		return KindUser
	}
}

// Identity is the verified principal produced by authentication. It is
// immutable for the lifetime of the sessions issued from it.
type Identity struct {
	Subject string
	Name    string
	Email   string
	Kind    Kind
	Roles   []string
}

// TokenPair is the result of a successful login or refresh: a short-lived
// stateless access token, a rotating refresh token, and the identifier of the
// session record both are bound to.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// SessionInfo is a read-only projection of a live session record, returned by
// [Coordinator.Sessions].
type SessionInfo struct {
	SessionID      string
	Subject        string
	Kind           Kind
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
}

// CredentialRecord is the stored credential row consulted by local login.
// The password hash is in PHC string format; it is read, never copied out of
// the source by the Coordinator.
type CredentialRecord struct {
	Subject      string
	Name         string
	Email        string
	Kind         Kind
	Roles        []string
	PasswordHash string
}

// CredentialSource is the interface callers implement to integrate authcore
// with their user database. GetByIdentifier must return an error for unknown
// identifiers; the Coordinator never distinguishes that error from a password
// mismatch at its API boundary.
type CredentialSource interface {
	GetByIdentifier(ctx context.Context, identifier string) (CredentialRecord, error)
	// UpdatePasswordHash is invoked best-effort when RehashOnLogin is enabled
	// and a stored hash no longer matches the configured cost parameters.
	UpdatePasswordHash(ctx context.Context, subject, newHash string) error
}

// IdentityBinder maps a verified external OAuth2 identity to a local Identity.
// Whether a new local identity is created on first sight is the binder's
// policy, not the Coordinator's.
type IdentityBinder interface {
	Bind(ctx context.Context, provider, externalSubject, email, name string) (Identity, error)
}

// AuditEvent is a structured audit record emitted by the coordinator.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the coordinator's audit
// dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer], one object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
