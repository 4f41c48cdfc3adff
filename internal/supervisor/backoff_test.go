package supervisor

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialWithCap(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}

	for i, wantDelay := range want {
		delay, failures := b.Next()
		if delay != wantDelay {
			t.Errorf("attempt %d: delay = %v, want %v", i, delay, wantDelay)
		}
		if failures != i+1 {
			t.Errorf("attempt %d: failures = %d, want %d", i, failures, i+1)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()

	delay, failures := b.Next()
	if delay != time.Second {
		t.Errorf("delay after reset = %v, want 1s", delay)
	}
	if failures != 1 {
		t.Errorf("failures after reset = %d, want 1", failures)
	}
}
