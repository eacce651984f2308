// Package rate provides Redis-backed fixed-window counters for throttling
// login and refresh attempts.
//
// # Window semantics
//
// Fixed-window counters: INCR plus conditional EXPIRE on the first hit.
// Key prefixes:
//   - rl:lu: - login per-identifier
//   - rl:li: - login per-IP
//   - rl:rf: - refresh per-session
package rate
