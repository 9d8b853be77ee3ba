package channels

import (
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	var b Backoff

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w)
		}
	}
}

func TestBackoff_Caps(t *testing.T) {
	var b Backoff
	for i := 0; i < 20; i++ {
		if d := b.Next(); d > backoffMax {
			t.Fatalf("delay %v exceeds cap %v", d, backoffMax)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	var b Backoff
	b.Next()
	b.Next()
	b.Reset()

	if b.Attempt() != 0 {
		t.Errorf("attempt = %d after reset, want 0", b.Attempt())
	}
	if d := b.Next(); d != backoffBase {
		t.Errorf("delay after reset = %v, want %v", d, backoffBase)
	}
}
