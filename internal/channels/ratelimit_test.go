package channels

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("message %d should be allowed", i+1)
		}
	}
	if rl.Allow("u1") {
		t.Error("4th message within the window should be rejected")
	}
}

func TestRateLimiter_PerSender(t *testing.T) {
	rl := NewRateLimiter(1)

	if !rl.Allow("u1") {
		t.Fatal("first message from u1 should be allowed")
	}
	if !rl.Allow("u2") {
		t.Error("u2 should have an independent window")
	}
	if rl.Allow("u1") {
		t.Error("second message from u1 should be rejected")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(2)
	rl.now = func() time.Time { return now }

	rl.Allow("u1")
	rl.Allow("u1")
	if rl.Allow("u1") {
		t.Fatal("limit reached, should reject")
	}

	// 30s later the window still holds both hits.
	now = now.Add(30 * time.Second)
	if rl.Allow("u1") {
		t.Error("should still be limited at 30s")
	}

	// At exactly 60s the first hit ages out (boundary is exclusive).
	now = now.Add(30 * time.Second)
	if !rl.Allow("u1") {
		t.Error("first hit should have aged out at the 60s boundary")
	}
}

func TestRateLimiter_RejectionHasNoSideEffects(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	rl.Allow("u1")

	// Hammering while limited must not extend the window.
	for i := 0; i < 10; i++ {
		now = now.Add(time.Second)
		rl.Allow("u1")
	}

	now = now.Add(51 * time.Second) // 61s after the single accepted hit
	if !rl.Allow("u1") {
		t.Error("rejected attempts must not count against the window")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Now()
	rl := NewRateLimiter(5)
	rl.now = func() time.Time { return now }

	rl.Allow("u1")
	rl.Allow("u2")

	now = now.Add(2 * time.Minute)
	rl.Cleanup()

	if len(rl.hits) != 0 {
		t.Errorf("expected all senders dropped after cleanup, got %d", len(rl.hits))
	}
}
