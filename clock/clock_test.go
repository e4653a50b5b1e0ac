package clock

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestNowMonotonicallyNonDecreasing(t *testing.T) {
	prev := Now()
	for i := 0; i < 1000; i++ {
		cur := Now()
		if cur < prev {
			t.Fatalf("clock went backwards: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func TestSubDelta(t *testing.T) {
	a := MonoTime(1_000_000_000)
	b := MonoTime(1_000_500_000)
	if got := b.Sub(a); got != 500_000 {
		t.Fatalf("b.Sub(a) = %d, want 500000", got)
	}
	if got := a.Sub(b); got != -500_000 {
		t.Fatalf("a.Sub(b) = %d, want -500000", got)
	}
}

func TestFromTimespec(t *testing.T) {
	ts := unix.Timespec{Sec: 3, Nsec: 250}
	got := FromTimespec(ts)
	if got != MonoTime(3_000_000_250) {
		t.Fatalf("FromTimespec = %d, want 3000000250", got)
	}
}

func TestNowAdvancesWithSleep(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	if b.Sub(a) <= 0 {
		t.Fatalf("expected forward progress, got delta %d", b.Sub(a))
	}
}
