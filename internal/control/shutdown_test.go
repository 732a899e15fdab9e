package control

import "testing"

func TestShutdownEscalation(t *testing.T) {
	var terminates, aborts int
	c := NewShutdownCoordinator(func() { terminates++ })
	c.abort = func() { aborts++ }

	c.Signal("interrupt")
	c.Signal("interrupt")
	if terminates != 2 || aborts != 0 {
		t.Fatalf("after 2 signals: terminates=%d aborts=%d, want 2/0", terminates, aborts)
	}

	c.Signal("interrupt")
	if terminates != 2 || aborts != 1 {
		t.Fatalf("after 3 signals: terminates=%d aborts=%d, want 2/1", terminates, aborts)
	}
	if got := c.Count(); got != 3 {
		t.Fatalf("Count = %d, want 3", got)
	}

	// Anything past the threshold keeps aborting rather than terminating.
	c.Signal("terminated")
	if terminates != 2 || aborts != 2 {
		t.Fatalf("after 4 signals: terminates=%d aborts=%d, want 2/2", terminates, aborts)
	}
}
