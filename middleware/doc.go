// Package middleware exposes HTTP adapters for request authentication built
// on top of Coordinator.Authenticate.
//
// # Guards
//
//   - [Guard] - bearer-token authentication, identity into context.
//   - [RequireKind] - session-kind gate layered on top of [Guard].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Coordinator calls. It does NOT
// parse tokens or access Redis itself; all decisions are delegated to the
// Coordinator, and every failure collapses to a uniform 401.
package middleware
