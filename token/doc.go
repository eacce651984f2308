// Package token signs and verifies the access and refresh JWTs issued by the
// coordinator. Access tokens validate statelessly; refresh tokens carry the
// same claim set but are additionally checked against the session store by
// the caller.
package token
