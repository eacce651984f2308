package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/relife-labs/authcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the verified identity injected by [Guard].
func IdentityFromContext(ctx context.Context) (authcore.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(authcore.Identity)
	return identity, ok
}

// Guard returns middleware that authenticates the bearer token on every
// request and injects the resulting identity into the request context.
// Every failure mode produces the same uniform 401.
func Guard(coordinator *authcore.Coordinator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if coordinator == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := coordinator.Authenticate(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKind wraps [Guard]-protected handlers with a session-kind check.
// Guests are rejected from user-only routes this way.
func RequireKind(kinds ...authcore.Kind) func(http.Handler) http.Handler {
	allowed := make(map[authcore.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[identity.Kind]; !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
