// Package oauth adapts external OAuth2 providers to a single Exchange
// operation: authorization code in, normalized identity out.
//
// Providers never mint local credentials. The coordinator binds the returned
// [ExternalIdentity] to a local subject and runs its own session issuance.
package oauth
