package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	return New(rdb, cfg), mr
}

func TestLoginBudgetEnforced(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		MaxLoginAttempts: 3,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	// The budget is spent; the next check refuses.
	if err := l.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on overdraft, got %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Other identifiers are unaffected.
	if err := l.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("unrelated identifier throttled: %v", err)
	}
}

func TestLoginWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts: 1,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = l.IncrementLogin(ctx, "alice", "")
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected clean window, got %v", err)
	}
}

func TestIPThrottleIndependentOfIdentifier(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableIPThrottle: true,
		MaxLoginAttempts: 2,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	// Same IP hammering different identifiers still exhausts the IP budget.
	for i := 0; i < 3; i++ {
		_ = l.IncrementLogin(ctx, "victim-"+string(rune('a'+i)), "203.0.113.7")
	}

	if err := l.CheckLogin(ctx, "fresh-identifier", "203.0.113.7"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP throttle, got %v", err)
	}
	if err := l.CheckLogin(ctx, "fresh-identifier", "198.51.100.1"); err != nil {
		t.Fatalf("other IP throttled: %v", err)
	}
}

func TestResetLoginClearsCounters(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableIPThrottle: true,
		MaxLoginAttempts: 1,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = l.IncrementLogin(ctx, "alice", "203.0.113.7")
	}
	if err := l.CheckLogin(ctx, "alice", "203.0.113.7"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	if err := l.ResetLogin(ctx, "alice", "203.0.113.7"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", "203.0.113.7"); err != nil {
		t.Fatalf("expected clean counters, got %v", err)
	}

	attempts, err := l.LoginAttempts(ctx, "alice")
	if err != nil || attempts != 0 {
		t.Fatalf("expected 0 attempts, got %d (%v)", attempts, err)
	}
}

func TestCheckRefreshBudget(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		EnableRefreshThrottle: true,
		MaxRefreshAttempts:    2,
		RefreshCooldown:       time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRefresh(ctx, "sid-1"); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if err := l.CheckRefresh(ctx, "sid-1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Other sessions have their own budget.
	if err := l.CheckRefresh(ctx, "sid-2"); err != nil {
		t.Fatalf("unrelated session throttled: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := l.CheckRefresh(ctx, "sid-1"); err != nil {
		t.Fatalf("expected clean window, got %v", err)
	}
}

func TestCheckRefreshDisabled(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableRefreshThrottle: false,
		MaxRefreshAttempts:    1,
		RefreshCooldown:       time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := l.CheckRefresh(ctx, "sid-1"); err != nil {
			t.Fatalf("disabled throttle refused: %v", err)
		}
	}
}

func TestLimiterUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		MaxLoginAttempts: 1,
		LoginCooldown:    time.Minute,
	})
	ctx := context.Background()

	mr.Close()

	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := l.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
