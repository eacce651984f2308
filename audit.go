package authcore

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/relife-labs/authcore/internal/audit"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginRateLimited     = "login_rate_limited"
	auditEventGuestLogin           = "guest_login"
	auditEventOAuthLoginSuccess    = "oauth_login_success"
	auditEventOAuthLoginFailure    = "oauth_login_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLogoutSession        = "logout_session"
	auditEventLogoutAll            = "logout_all"
)

// auditErrorCode normalizes internal errors to stable audit codes. The codes
// are more granular than the caller-visible error set on purpose: the API
// hides distinctions that the audit trail must keep.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrInvalidSession):
		return "session_not_found"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrReplayDetected):
		return "refresh_reuse"
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrRefreshRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSessionLimitExceeded):
		return "session_limit_exceeded"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrProviderExchangeFailed):
		return "provider_exchange_failed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "internal_error"
	}
}

func (c *Coordinator) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := internalaudit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Subject:   subject,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = code
	}

	c.audit.Emit(ctx, event)
}
