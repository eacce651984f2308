package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relife-labs/authcore"
)

func newTestCoordinator(t *testing.T) *authcore.Coordinator {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	coordinator, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		Build()
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}
	t.Cleanup(coordinator.Close)

	return coordinator
}

func guardedEcho(t *testing.T, coordinator *authcore.Coordinator) http.Handler {
	t.Helper()
	return Guard(coordinator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		w.Write([]byte(identity.Subject))
	}))
}

func TestGuardAcceptsValidAccessToken(t *testing.T) {
	coordinator := newTestCoordinator(t)
	handler := guardedEcho(t, coordinator)

	pair, err := coordinator.LoginIdentity(context.Background(), authcore.Identity{Subject: "u-1", Roles: []string{"reader"}})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "u-1" {
		t.Fatalf("expected subject in body, got %q", rec.Body.String())
	}
}

func TestGuardRejectsMissingAndMalformedHeaders(t *testing.T) {
	coordinator := newTestCoordinator(t)
	handler := guardedEcho(t, coordinator)

	cases := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"not bearer", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestGuardRejectsRefreshToken(t *testing.T) {
	coordinator := newTestCoordinator(t)
	handler := guardedEcho(t, coordinator)

	pair, err := coordinator.LoginIdentity(context.Background(), authcore.Identity{Subject: "u-1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected refresh token to be rejected with 401, got %d", rec.Code)
	}
}

func TestRequireKindGatesGuests(t *testing.T) {
	coordinator := newTestCoordinator(t)

	handler := Guard(coordinator)(RequireKind(authcore.KindUser, authcore.KindAdmin)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
	))

	userPair, err := coordinator.LoginIdentity(context.Background(), authcore.Identity{Subject: "u-1", Kind: authcore.KindUser})
	if err != nil {
		t.Fatalf("user login: %v", err)
	}
	guestPair, _, err := coordinator.LoginGuest(context.Background())
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/users-only", nil)
	req.Header.Set("Authorization", "Bearer "+userPair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected user to pass, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/users-only", nil)
	req.Header.Set("Authorization", "Bearer "+guestPair.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected guest to be forbidden, got %d", rec.Code)
	}
}
