package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"cashoffer_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, policy Policy) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb, policy, logger.New("test")), mr
}

func TestReserveUnderCap(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	res, err := l.Reserve(ctx, "spend", 72.50, 100, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !res.Allowed {
		t.Fatal("first reservation under cap should be allowed")
	}
	if res.NewTotal != 72.50 {
		t.Errorf("NewTotal = %v, want 72.50", res.NewTotal)
	}
}

func TestReserveDenialLeavesCounterUntouched(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	if _, err := l.Reserve(ctx, "spend", 80, 100, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	res, err := l.Reserve(ctx, "spend", 30, 100, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Allowed {
		t.Fatal("reservation over cap should be denied")
	}
	if res.NewTotal != 80 {
		t.Errorf("denied reservation changed counter: total = %v, want 80", res.NewTotal)
	}

	// A smaller amount that still fits must succeed afterward.
	res, err = l.Reserve(ctx, "spend", 20, 100, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !res.Allowed || res.NewTotal != 100 {
		t.Errorf("fitting reservation = %+v, want allowed with total 100", res)
	}
}

func TestReserveExactCapBoundary(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	res, err := l.Reserve(ctx, "k", 100, 100, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !res.Allowed {
		t.Fatal("reservation landing exactly on the cap should be allowed")
	}

	res, err = l.Reserve(ctx, "k", 0.01, 100, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Allowed {
		t.Fatal("reservation past the cap should be denied")
	}
}

func TestReserveRejectsNonPositiveAmount(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)

	for _, amount := range []float64{0, -5} {
		if _, err := l.Reserve(context.Background(), "k", amount, 100, time.Hour); err == nil {
			t.Errorf("Reserve(amount=%v) expected error", amount)
		}
	}
}

func TestWindowTTLAttachedOnceNeverReset(t *testing.T) {
	l, mr := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	if _, err := l.Reserve(ctx, "k", 1, 100, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	first := mr.TTL("k")
	if first <= 0 {
		t.Fatalf("TTL after first reservation = %v, want positive", first)
	}

	mr.FastForward(30 * time.Minute)

	if _, err := l.Reserve(ctx, "k", 1, 100, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := mr.TTL("k"); got > 30*time.Minute {
		t.Errorf("TTL after second reservation = %v, window was reset", got)
	}
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	l, mr := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	if _, err := l.Reserve(ctx, "k", 100, 100, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	res, err := l.Reserve(ctx, "k", 100, 100, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !res.Allowed {
		t.Fatal("counter should reset after its window expires")
	}
	if res.NewTotal != 100 {
		t.Errorf("NewTotal after reset = %v, want 100", res.NewTotal)
	}
}

// TestConcurrentReservationsNeverExceedCap drives many goroutines against one
// counter and verifies the cap holds: the sum of granted amounts never exceeds
// it, and the counter admits as many reservations as fit.
func TestConcurrentReservationsNeverExceedCap(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	const workers = 50
	var (
		amount  = 7.0
		cap     = 100.0
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Reserve(ctx, "spend", amount, cap, time.Hour)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	want := int(cap / amount) // 14
	if granted != want {
		t.Errorf("granted %d reservations of %v against cap %v, want exactly %d",
			granted, amount, cap, want)
	}
}

func TestReserveOnceDeduplicatesToken(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	first, err := l.ReserveOnce(ctx, "spend", "offer-1", 72, 100, time.Hour)
	if err != nil {
		t.Fatalf("ReserveOnce: %v", err)
	}
	if !first.Allowed || first.NewTotal != 72 {
		t.Fatalf("first reservation = %+v, want allowed with total 72", first)
	}

	// Same token again: allowed, counter untouched.
	again, err := l.ReserveOnce(ctx, "spend", "offer-1", 72, 100, time.Hour)
	if err != nil {
		t.Fatalf("redelivered ReserveOnce: %v", err)
	}
	if !again.Allowed {
		t.Fatal("redelivered token should be allowed")
	}
	if again.NewTotal != 72 {
		t.Errorf("redelivered token incremented counter: total = %v, want 72", again.NewTotal)
	}

	// A different token still accumulates.
	other, err := l.ReserveOnce(ctx, "spend", "offer-2", 20, 100, time.Hour)
	if err != nil {
		t.Fatalf("ReserveOnce: %v", err)
	}
	if !other.Allowed || other.NewTotal != 92 {
		t.Errorf("second token = %+v, want allowed with total 92", other)
	}
}

func TestReserveOnceDenialLeavesTokenUnrecorded(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)
	ctx := context.Background()

	if _, err := l.ReserveOnce(ctx, "spend", "offer-1", 80, 100, time.Hour); err != nil {
		t.Fatalf("ReserveOnce: %v", err)
	}

	denied, err := l.ReserveOnce(ctx, "spend", "offer-2", 30, 100, time.Hour)
	if err != nil {
		t.Fatalf("ReserveOnce: %v", err)
	}
	if denied.Allowed {
		t.Fatal("reservation over cap should be denied")
	}

	// The denied token was not remembered: once room exists it reserves for
	// real rather than riding the dedup path.
	fits, err := l.ReserveOnce(ctx, "spend", "offer-2", 20, 100, time.Hour)
	if err != nil {
		t.Fatalf("ReserveOnce: %v", err)
	}
	if !fits.Allowed || fits.NewTotal != 100 {
		t.Errorf("retried token = %+v, want allowed with total 100", fits)
	}
}

func TestReserveOnceRejectsEmptyToken(t *testing.T) {
	l, _ := newTestLimiter(t, FailClosed)

	if _, err := l.ReserveOnce(context.Background(), "spend", "", 1, 100, time.Hour); err == nil {
		t.Fatal("ReserveOnce with empty token expected error")
	}
}

func TestFailClosedDeniesOnStoreError(t *testing.T) {
	l, mr := newTestLimiter(t, FailClosed)
	mr.Close()

	_, err := l.Reserve(context.Background(), "k", 1, 100, time.Hour)
	if err == nil {
		t.Fatal("fail-closed limiter should surface store errors")
	}
}

func TestFailOpenAllowsOnStoreError(t *testing.T) {
	l, mr := newTestLimiter(t, FailOpen)
	mr.Close()

	res, err := l.Reserve(context.Background(), "k", 1, 100, time.Hour)
	if err != nil {
		t.Fatalf("fail-open limiter returned error: %v", err)
	}
	if !res.Allowed {
		t.Fatal("fail-open limiter should allow when the store is unreachable")
	}
}

func TestKeyBuilders(t *testing.T) {
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	if got, want := DailySpendKey(at), "spend:daily:2026-03-14"; got != want {
		t.Errorf("DailySpendKey = %q, want %q", got, want)
	}
	if got, want := UserDailyKey("u1", at), "offers:user:u1:2026-03-14"; got != want {
		t.Errorf("UserDailyKey = %q, want %q", got, want)
	}
	if got, want := IPHourlyKey("10.0.0.1", at), "offers:ip:10.0.0.1:2026-03-14T15"; got != want {
		t.Errorf("IPHourlyKey = %q, want %q", got, want)
	}
}
