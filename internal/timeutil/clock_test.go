package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	base := time.Unix(1000, 0)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Fatalf("Now = %v, want %v", c.Now(), base)
	}

	c.Advance(3 * time.Second)
	if got := c.Since(base); got != 3*time.Second {
		t.Fatalf("Since = %v, want 3s", got)
	}

	c.Set(base.Add(time.Minute))
	if got := c.Now(); !got.Equal(base.Add(time.Minute)) {
		t.Fatalf("Now after Set = %v", got)
	}
}

func TestMockClockSleepAdvancesTime(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))

	c.Sleep(100 * time.Millisecond)
	c.Sleep(250 * time.Millisecond)

	if got := c.Now().UnixMilli(); got != 350 {
		t.Fatalf("Now = %dms, want 350ms", got)
	}
	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 250*time.Millisecond {
		t.Fatalf("Sleeps = %v", sleeps)
	}
}

func TestMockClockAfterFiresImmediately(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))

	select {
	case at := <-c.After(2 * time.Second):
		if !at.Equal(time.Unix(2, 0)) {
			t.Fatalf("After delivered %v, want t+2s", at)
		}
	default:
		t.Fatal("After channel not ready on a mock clock")
	}
	if got := c.Now(); !got.Equal(time.Unix(2, 0)) {
		t.Fatalf("Now after After = %v, want t+2s", got)
	}
}
