// Package session provides Redis-backed session persistence and a compact
// binary record encoding for authentication hot paths.
//
// # Binary encoding
//
// Records are stored in Redis as a compact binary format. The rotation Lua
// script parses the same layout, so the fingerprint and expiry positions
// must stay derivable from the length-prefixed strings alone.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Record] model.
// It does NOT interpret JWT tokens or enforce authentication policy; those
// responsibilities belong to the coordinator.
package session
