package authcore

import "errors"

var (
	// ErrUnauthorized is the single caller-visible failure for access-token
	// validation. It deliberately hides whether the token was malformed,
	// expired, or carried a bad signature.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidToken is returned when a presented token cannot be parsed or
	// verified. The refresh path surfaces it; the validation path folds it
	// into ErrUnauthorized.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned for any local login failure. Unknown
	// identifier and wrong password are indistinguishable at this boundary.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession is returned when the session record backing a refresh
	// token is absent or revoked.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionExpired is returned when the session record's absolute
	// lifetime has lapsed.
	ErrSessionExpired = errors.New("session expired")
	// ErrReplayDetected is returned when a refresh token is presented whose
	// fingerprint no longer matches the session record. The session is revoked
	// before this is returned.
	ErrReplayDetected = errors.New("refresh token replay detected")
	// ErrStoreUnavailable is returned when the session store cannot be
	// reached. Login and refresh fail closed on it.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrProviderExchangeFailed is returned when an OAuth2 provider rejects
	// the exchange or cannot be reached within the retry budget.
	ErrProviderExchangeFailed = errors.New("provider exchange failed")
	// ErrProviderUnknown is returned by LoginOAuth for an unregistered
	// provider name.
	ErrProviderUnknown = errors.New("unknown oauth2 provider")
	// ErrLoginRateLimited is returned when the login attempt budget for an
	// identifier or client IP is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when the refresh attempt budget for a
	// session is exhausted.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSessionLimitExceeded is returned when a login would exceed the
	// configured per-subject session cap.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrCoordinatorNotReady is returned when a Coordinator method is invoked
	// before Build wired its dependencies.
	ErrCoordinatorNotReady = errors.New("coordinator not initialized")
	// ErrCredentialSourceRequired is returned by Login when no credential
	// source was registered on the builder.
	ErrCredentialSourceRequired = errors.New("credential source required")
	// ErrIdentityBinderRequired is returned by LoginOAuth when no identity
	// binder was registered on the builder.
	ErrIdentityBinderRequired = errors.New("identity binder required")
)
