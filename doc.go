// Package authcore provides a session and token coordinator for web backends:
// short-lived stateless JWT access tokens, rotating refresh tokens cross-checked
// against Redis-backed session records, local credential login, and OAuth2 login
// through pluggable providers.
//
// The package is designed for concurrent server workloads: Coordinator methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build]. The Coordinator holds no mutable in-process state; every
// piece of shared mutable state lives in the session store.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Coordinator], [Builder], [Config],
// and value types (Identity, TokenPair, SessionInfo, etc.). Internal coordination
// (random material, rate limiting, audit dispatch) lives under internal/ and
// is never exported. Token signing lives in the token subpackage, session
// persistence in session, password hashing in password, and provider exchange
// in oauth.
//
// # Design contract
//
// Access tokens are validated without any store round-trip (the hot path).
// Refresh tokens are valid only while their fingerprint matches the live
// session record; rotation is an atomic compare-and-swap in the store, so a
// reused refresh token is detected and the session is revoked defensively.
// All caller-visible authentication failures on the validation path collapse
// to [ErrUnauthorized]; audit events retain the internal distinction.
package authcore
