package admission

import (
	"context"
	"testing"
	"time"
)

func TestSlotLimiter_AcquireAndRelease(t *testing.T) {
	l := NewSlotLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	release1, ok := l.Acquire(ctx)
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	release2, ok := l.Acquire(ctx)
	if !ok {
		t.Fatal("second acquire should succeed")
	}
	if l.InFlight() != 2 {
		t.Errorf("InFlight() = %d, want 2", l.InFlight())
	}

	// Pool is full; the third caller times out.
	start := time.Now()
	if _, ok := l.Acquire(ctx); ok {
		t.Fatal("third acquire should time out")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("acquire returned after %s, should have waited for the timeout", elapsed)
	}

	release1()
	if _, ok := l.Acquire(ctx); !ok {
		t.Fatal("acquire after release should succeed")
	}

	// Double release must not free a second slot.
	release2()
	release2()
	if l.InFlight() != 1 {
		t.Errorf("InFlight() after double release = %d, want 1", l.InFlight())
	}
}

func TestSlotLimiter_ContextCancellation(t *testing.T) {
	l := NewSlotLimiter(1, time.Minute)
	release, _ := l.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if _, ok := l.Acquire(ctx); ok {
		t.Fatal("acquire should fail on cancellation")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("acquire waited %s past cancellation", elapsed)
	}
}

func TestCooldownTracker(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)
	cooldown := 60 * time.Second

	if got := tracker.Remaining("imperium", cooldown, now); got != 0 {
		t.Errorf("Remaining() for unknown agent = %s, want 0", got)
	}

	tracker.MarkGranted("imperium", now)
	if got := tracker.Remaining("imperium", cooldown, now.Add(10*time.Second)); got != 50*time.Second {
		t.Errorf("Remaining() = %s, want 50s", got)
	}
	if got := tracker.Remaining("imperium", cooldown, now.Add(60*time.Second)); got != 0 {
		t.Errorf("Remaining() at expiry = %s, want 0", got)
	}

	// Other agents are unaffected.
	if got := tracker.Remaining("guardian", cooldown, now); got != 0 {
		t.Errorf("Remaining() for other agent = %s, want 0", got)
	}

	if tracker.LastGranted("imperium") != now {
		t.Error("LastGranted() should return the marked time")
	}
	if !tracker.LastGranted("guardian").IsZero() {
		t.Error("LastGranted() for unknown agent should be zero")
	}
}

func TestCooldownTracker_Reserve(t *testing.T) {
	tracker := NewCooldownTracker()
	now := time.Date(2026, time.June, 10, 12, 0, 0, 0, time.UTC)
	cooldown := 60 * time.Second

	wait, cancel := tracker.Reserve("imperium", cooldown, now)
	if wait != 0 || cancel == nil {
		t.Fatalf("Reserve() for unknown agent = (%s, %p), want immediate reservation", wait, cancel)
	}

	// The reservation is visible before the grant completes.
	wait, second := tracker.Reserve("imperium", cooldown, now.Add(10*time.Second))
	if second != nil || wait != 50*time.Second {
		t.Fatalf("Reserve() inside window = (%s, %p), want 50s wait", wait, second)
	}

	// Cancel rolls the tentative grant back.
	cancel()
	if !tracker.LastGranted("imperium").IsZero() {
		t.Error("cancelled reservation should leave no last-grant record")
	}
	if wait, cancel = tracker.Reserve("imperium", cooldown, now.Add(10*time.Second)); cancel == nil {
		t.Fatalf("Reserve() after cancel refused with %s wait", wait)
	}

	// Cancelling after the window turned over restores the prior grant.
	later := now.Add(2 * time.Minute)
	_, cancelLater := tracker.Reserve("imperium", cooldown, later)
	if cancelLater == nil {
		t.Fatal("Reserve() after expiry refused")
	}
	cancelLater()
	if got := tracker.LastGranted("imperium"); !got.Equal(now.Add(10 * time.Second)) {
		t.Errorf("LastGranted() after rollback = %s, want the earlier grant", got)
	}
}
