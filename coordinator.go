package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relife-labs/authcore/internal"
	internalaudit "github.com/relife-labs/authcore/internal/audit"
	"github.com/relife-labs/authcore/internal/rate"
	"github.com/relife-labs/authcore/oauth"
	"github.com/relife-labs/authcore/password"
	"github.com/relife-labs/authcore/session"
	"github.com/relife-labs/authcore/token"
)

// Coordinator is the central orchestrator for session and token lifecycle.
// It holds no mutable state of its own; all shared state lives in Redis.
// Safe for concurrent use.
type Coordinator struct {
	config Config

	codec     *token.Codec
	store     *session.Store
	hasher    *password.Hasher
	limiter   *rate.Limiter
	creds     CredentialSource
	binder    IdentityBinder
	exchanger *oauth.Exchanger

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Login verifies local credentials and issues a session plus token pair.
// Unknown identifiers and wrong passwords both surface as
// [ErrInvalidCredentials] so the API does not reveal account existence.
func (c *Coordinator) Login(ctx context.Context, identifier, secret string) (TokenPair, Identity, error) {
	if c.creds == nil {
		return TokenPair{}, Identity{}, ErrCredentialSourceRequired
	}

	ip := clientIPFromContext(ctx)

	if c.config.Security.EnableLoginThrottle {
		if err := c.limiter.CheckLogin(ctx, identifier, ip); err != nil {
			return TokenPair{}, Identity{}, c.loginThrottled(ctx, identifier, err)
		}
	}

	rec, err := c.creds.GetByIdentifier(ctx, identifier)
	if err != nil {
		return TokenPair{}, Identity{}, c.loginRejected(ctx, identifier, ip, "unknown_identifier")
	}

	ok, err := c.hasher.Verify(secret, rec.PasswordHash)
	if err != nil || !ok {
		return TokenPair{}, Identity{}, c.loginRejected(ctx, identifier, ip, "password_mismatch")
	}

	if c.config.Password.RehashOnLogin {
		c.maybeRehash(ctx, rec.Subject, secret, rec.PasswordHash)
	}

	if c.config.Security.EnableLoginThrottle {
		// Stale throttle counters decay via TTL; a failed reset must not
		// block a correct login.
		_ = c.limiter.ResetLogin(ctx, identifier, ip)
	}

	identity := Identity{
		Subject: rec.Subject,
		Name:    rec.Name,
		Email:   rec.Email,
		Kind:    rec.Kind,
		Roles:   rec.Roles,
	}

	pair, err := c.issueSession(ctx, identity, c.config.Session.AbsoluteLifetime)
	if err != nil {
		c.emitAudit(ctx, auditEventLoginFailure, false, identity.Subject, "", err, nil)
		c.metrics.Inc(MetricLoginFailure)
		return TokenPair{}, Identity{}, err
	}

	c.metrics.Inc(MetricLoginSuccess)
	c.emitAudit(ctx, auditEventLoginSuccess, true, identity.Subject, pair.SessionID, nil, nil)

	return pair, identity, nil
}

// LoginIdentity issues a session for an identity the caller has already
// verified, for example after an out-of-band MFA step.
func (c *Coordinator) LoginIdentity(ctx context.Context, identity Identity) (TokenPair, error) {
	if identity.Subject == "" {
		return TokenPair{}, fmt.Errorf("%w: empty subject", ErrInvalidCredentials)
	}

	pair, err := c.issueSession(ctx, identity, c.config.Session.AbsoluteLifetime)
	if err != nil {
		c.emitAudit(ctx, auditEventLoginFailure, false, identity.Subject, "", err, nil)
		c.metrics.Inc(MetricLoginFailure)
		return TokenPair{}, err
	}

	c.metrics.Inc(MetricLoginSuccess)
	c.emitAudit(ctx, auditEventLoginSuccess, true, identity.Subject, pair.SessionID, nil, nil)

	return pair, nil
}

// LoginOAuth exchanges a provider authorization code, binds the external
// identity to a local one, and issues a session.
func (c *Coordinator) LoginOAuth(ctx context.Context, provider, code string) (TokenPair, Identity, error) {
	if c.exchanger == nil {
		return TokenPair{}, Identity{}, fmt.Errorf("%w: no oauth providers configured", ErrProviderUnknown)
	}
	if c.binder == nil {
		return TokenPair{}, Identity{}, ErrIdentityBinderRequired
	}

	external, err := c.exchanger.Exchange(ctx, provider, code)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			return TokenPair{}, Identity{}, fmt.Errorf("%w: %v", ErrProviderUnknown, err)
		}
		c.metrics.Inc(MetricOAuthExchangeFailure)
		c.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", "", ErrProviderExchangeFailed, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return TokenPair{}, Identity{}, fmt.Errorf("%w: %v", ErrProviderExchangeFailed, err)
	}

	identity, err := c.binder.Bind(ctx, external.Provider, external.Subject, external.Email, external.Name)
	if err != nil {
		c.emitAudit(ctx, auditEventOAuthLoginFailure, false, "", "", err, func() map[string]string {
			return map[string]string{"provider": provider}
		})
		return TokenPair{}, Identity{}, fmt.Errorf("bind external identity: %w", err)
	}

	pair, err := c.issueSession(ctx, identity, c.config.Session.AbsoluteLifetime)
	if err != nil {
		c.emitAudit(ctx, auditEventOAuthLoginFailure, false, identity.Subject, "", err, nil)
		c.metrics.Inc(MetricLoginFailure)
		return TokenPair{}, Identity{}, err
	}

	c.metrics.Inc(MetricLoginSuccess)
	c.emitAudit(ctx, auditEventOAuthLoginSuccess, true, identity.Subject, pair.SessionID, nil, func() map[string]string {
		return map[string]string{"provider": provider}
	})

	return pair, identity, nil
}

// LoginGuest issues an ephemeral guest session. Guest subjects are random
// and never resolvable through the credential source; the session lifetime
// comes from Session.GuestLifetime.
func (c *Coordinator) LoginGuest(ctx context.Context) (TokenPair, Identity, error) {
	identity := Identity{
		Subject: "guest_" + uuid.NewString(),
		Kind:    KindGuest,
	}

	pair, err := c.issueSession(ctx, identity, c.config.Session.GuestLifetime)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.emitAudit(ctx, auditEventGuestLogin, false, identity.Subject, "", err, nil)
		return TokenPair{}, Identity{}, err
	}

	c.metrics.Inc(MetricGuestLogin)
	c.emitAudit(ctx, auditEventGuestLogin, true, identity.Subject, pair.SessionID, nil, nil)

	return pair, identity, nil
}

// Refresh rotates a refresh token: exactly one concurrent caller presenting
// the same token receives a new pair; the rest observe [ErrReplayDetected]
// and the session is revoked. Both replacement tokens are constructed before
// the store commit so a crash mid-operation can only lose the rotation, not
// issue tokens for an uncommitted fingerprint.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := c.codec.Parse(refreshToken, token.TypeRefresh)
	if err != nil {
		c.metrics.Inc(MetricRefreshFailure)
		c.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, nil)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if c.config.Security.EnableRefreshThrottle {
		if err := c.limiter.CheckRefresh(ctx, claims.SID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				c.metrics.Inc(MetricRefreshRateLimited)
				c.emitAudit(ctx, auditEventRefreshRateLimited, false, claims.Subject, claims.SID, ErrRefreshRateLimited, nil)
				return TokenPair{}, ErrRefreshRateLimited
			}
			c.metrics.Inc(MetricStoreUnavailable)
			return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	newPair, nextFingerprint, err := c.buildPair(claims.Subject, claims.SID, ParseKind(claims.Kind), claims.Roles, claims.Name, c.refreshTTLFor(ParseKind(claims.Kind)))
	if err != nil {
		return TokenPair{}, err
	}

	_, err = c.store.RotateFingerprint(ctx, claims.SID, internal.Fingerprint(refreshToken), nextFingerprint)
	if err != nil {
		return TokenPair{}, c.classifyRotateError(ctx, claims.Subject, claims.SID, err)
	}

	// Last-activity is advisory; the rotation has already committed.
	_ = c.store.Touch(ctx, claims.SID, time.Now())

	c.metrics.Inc(MetricRefreshSuccess)
	c.emitAudit(ctx, auditEventRefreshSuccess, true, claims.Subject, claims.SID, nil, nil)

	return newPair, nil
}

// Authenticate validates an access token without touching the session
// store. Every failure is reported as [ErrUnauthorized]; the bounded
// revocation window is the access TTL.
func (c *Coordinator) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	start := time.Now()

	claims, err := c.codec.Parse(accessToken, token.TypeAccess)
	c.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	return Identity{
		Subject: claims.Subject,
		Name:    claims.Name,
		Kind:    ParseKind(claims.Kind),
		Roles:   claims.Roles,
	}, nil
}

// Logout revokes a single session. Logging out a session that no longer
// exists is a success; the tokens bound to it stop refreshing either way.
func (c *Coordinator) Logout(ctx context.Context, sessionID string) error {
	if err := c.store.Revoke(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrCorrupt) {
			// The key is gone; the logout goal is met.
			return nil
		}
		c.metrics.Inc(MetricStoreUnavailable)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	c.metrics.Inc(MetricLogout)
	c.metrics.Inc(MetricSessionRevoked)
	c.emitAudit(ctx, auditEventLogoutSession, true, "", sessionID, nil, nil)

	return nil
}

// LogoutAll revokes every tracked session for a subject.
func (c *Coordinator) LogoutAll(ctx context.Context, subject string) error {
	if err := c.store.RevokeAllForSubject(ctx, subject); err != nil {
		c.metrics.Inc(MetricStoreUnavailable)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	c.metrics.Inc(MetricLogoutAll)
	c.emitAudit(ctx, auditEventLogoutAll, true, subject, "", nil, nil)

	return nil
}

// Sessions lists the live sessions of a subject without mutating TTLs.
func (c *Coordinator) Sessions(ctx context.Context, subject string) ([]SessionInfo, error) {
	records, err := c.store.Sessions(ctx, subject)
	if err != nil {
		c.metrics.Inc(MetricStoreUnavailable)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	infos := make([]SessionInfo, 0, len(records))
	for _, rec := range records {
		infos = append(infos, SessionInfo{
			SessionID:      rec.SessionID,
			Subject:        rec.Subject,
			Kind:           Kind(rec.Kind),
			CreatedAt:      time.Unix(rec.CreatedAt, 0),
			LastActivityAt: time.Unix(rec.LastActivityAt, 0),
			ExpiresAt:      time.Unix(rec.ExpiresAt, 0),
		})
	}

	return infos, nil
}

// MetricsSnapshot returns a point-in-time copy of the in-process metrics.
func (c *Coordinator) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded under
// backpressure.
func (c *Coordinator) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Ping reports session store availability and round-trip latency.
func (c *Coordinator) Ping(ctx context.Context) (time.Duration, error) {
	latency, err := c.store.Ping(ctx)
	if err != nil {
		return latency, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return latency, nil
}

// Close drains the audit dispatcher. The Redis client is owned by the caller
// and is not closed here.
func (c *Coordinator) Close() {
	c.audit.Close()
}

func (c *Coordinator) issueSession(ctx context.Context, identity Identity, lifetime time.Duration) (TokenPair, error) {
	if err := c.enforceSessionPolicy(ctx, identity.Subject); err != nil {
		return TokenPair{}, err
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return TokenPair{}, err
	}
	sessionID := sid.String()

	refreshTTL := c.config.Token.RefreshTTL
	if refreshTTL > lifetime {
		refreshTTL = lifetime
	}

	pair, fingerprint, err := c.buildPair(identity.Subject, sessionID, identity.Kind, identity.Roles, identity.Name, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now()
	rec := &session.Record{
		SessionID:      sessionID,
		Subject:        identity.Subject,
		Kind:           uint8(identity.Kind),
		Roles:          identity.Roles,
		Fingerprint:    fingerprint,
		CreatedAt:      now.Unix(),
		LastActivityAt: now.Unix(),
		ExpiresAt:      now.Add(lifetime).Unix(),
	}

	if err := c.store.Create(ctx, rec, lifetime); err != nil {
		c.metrics.Inc(MetricStoreUnavailable)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	c.metrics.Inc(MetricSessionCreated)

	return pair, nil
}

// buildPair constructs both tokens of a pair before any store write. The
// refresh fingerprint returned is the digest of the new refresh token.
func (c *Coordinator) buildPair(
	subject string,
	sessionID string,
	kind Kind,
	roles []string,
	name string,
	refreshTTL time.Duration,
) (TokenPair, [32]byte, error) {
	refresh, err := c.codec.Issue(subject, sessionID, kind.String(), roles, name, token.TypeRefresh, refreshTTL)
	if err != nil {
		return TokenPair{}, [32]byte{}, err
	}

	accessTTL := c.config.Token.AccessTTL
	if accessTTL > refreshTTL {
		accessTTL = refreshTTL
	}
	access, err := c.codec.Issue(subject, sessionID, kind.String(), roles, name, token.TypeAccess, accessTTL)
	if err != nil {
		return TokenPair{}, [32]byte{}, err
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		SessionID:    sessionID,
	}, internal.Fingerprint(refresh), nil
}

func (c *Coordinator) enforceSessionPolicy(ctx context.Context, subject string) error {
	if c.config.Session.EnforceSingleSession {
		if err := c.store.RevokeAllForSubject(ctx, subject); err != nil {
			c.metrics.Inc(MetricStoreUnavailable)
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}

	if max := c.config.Session.MaxSessionsPerSubject; max > 0 {
		count, err := c.store.ActiveSessionCount(ctx, subject)
		if err != nil {
			c.metrics.Inc(MetricStoreUnavailable)
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count >= max {
			return ErrSessionLimitExceeded
		}
	}

	return nil
}

func (c *Coordinator) refreshTTLFor(kind Kind) time.Duration {
	ttl := c.config.Token.RefreshTTL
	if kind == KindGuest && ttl > c.config.Session.GuestLifetime {
		ttl = c.config.Session.GuestLifetime
	}
	return ttl
}

func (c *Coordinator) classifyRotateError(ctx context.Context, subject, sessionID string, err error) error {
	switch {
	case errors.Is(err, session.ErrFingerprintMismatch):
		c.metrics.Inc(MetricReplayDetected)
		c.metrics.Inc(MetricRefreshFailure)
		c.metrics.Inc(MetricSessionRevoked)
		c.emitAudit(ctx, auditEventRefreshReuseDetected, false, subject, sessionID, ErrReplayDetected, nil)
		return ErrReplayDetected
	case errors.Is(err, session.ErrNotFound):
		c.metrics.Inc(MetricRefreshFailure)
		c.emitAudit(ctx, auditEventRefreshInvalid, false, subject, sessionID, ErrInvalidSession, nil)
		return ErrInvalidSession
	case errors.Is(err, session.ErrExpired):
		c.metrics.Inc(MetricRefreshFailure)
		c.emitAudit(ctx, auditEventRefreshInvalid, false, subject, sessionID, ErrSessionExpired, nil)
		return ErrSessionExpired
	case errors.Is(err, session.ErrCorrupt):
		c.metrics.Inc(MetricRefreshFailure)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		c.metrics.Inc(MetricStoreUnavailable)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (c *Coordinator) loginThrottled(ctx context.Context, identifier string, err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		c.metrics.Inc(MetricLoginRateLimited)
		c.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return ErrLoginRateLimited
	}
	c.metrics.Inc(MetricStoreUnavailable)
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// loginRejected records a failed credential check. The reason stays in the
// audit trail only; the caller-visible error never reveals it.
func (c *Coordinator) loginRejected(ctx context.Context, identifier, ip, reason string) error {
	if c.config.Security.EnableLoginThrottle {
		if err := c.limiter.IncrementLogin(ctx, identifier, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			c.metrics.Inc(MetricStoreUnavailable)
		}
	}

	c.metrics.Inc(MetricLoginFailure)
	c.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": identifier, "reason": reason}
	})

	return ErrInvalidCredentials
}

func (c *Coordinator) maybeRehash(ctx context.Context, subject, secret, storedHash string) {
	needs, err := c.hasher.NeedsRehash(storedHash)
	if err != nil || !needs {
		return
	}

	newHash, err := c.hasher.Hash(secret)
	if err != nil {
		return
	}

	// Best effort; the old hash keeps working if the update fails.
	_ = c.creds.UpdatePasswordHash(ctx, subject, newHash)
}
