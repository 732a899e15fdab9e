package clocksync

import (
	"context"
	"testing"
	"time"

	"github.com/talon-uas/precland/internal/timeutil"
)

// echoSender replies to every sync request synchronously, after advancing
// the mock clock by Delay, as if the remote clock ran OffsetNS ahead of ours.
type echoSender struct {
	clock    *timeutil.MockClock
	sync     *Synchronizer
	Delay    time.Duration
	OffsetNS int64
	Silent   bool
	sent     int
}

func (e *echoSender) SendTimesync(tc1, ts1 int64) error {
	e.sent++
	if e.Silent {
		return nil
	}
	e.clock.Advance(e.Delay)
	e.sync.HandleReply(ts1, ts1+e.OffsetNS)
	return nil
}

func newTestSync(t *testing.T) (*Synchronizer, *timeutil.MockClock, *echoSender) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	sender := &echoSender{clock: clock}
	s := New(sender, clock)
	sender.sync = s
	return s, clock, sender
}

func TestInitialSyncConverges(t *testing.T) {
	s, _, sender := newTestSync(t)
	sender.Delay = 10 * time.Millisecond // 5ms half RTT, within the gate
	sender.OffsetNS = int64(2 * time.Second)

	if err := s.InitialSync(context.Background()); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}
	if !s.Converged() {
		t.Fatal("expected convergence")
	}
	snap := s.Stats()
	if snap.Samples != bufferSize {
		t.Errorf("samples = %d, want %d", snap.Samples, bufferSize)
	}
	// Every sample is half the round trip.
	wantOffset := float64(5 * time.Millisecond)
	if snap.OffsetNS != wantOffset {
		t.Errorf("offset = %v ns, want %v ns", snap.OffsetNS, wantOffset)
	}
}

func TestInitialSyncTimesOutWithoutReplies(t *testing.T) {
	s, clock, sender := newTestSync(t)
	sender.Silent = true
	start := clock.Now()

	if err := s.InitialSync(context.Background()); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}
	if s.Converged() {
		t.Fatal("unexpected convergence with no replies")
	}
	if _, ok := s.EstimateTime(); ok {
		t.Fatal("EstimateTime should report no estimate before any reply")
	}
	if elapsed := clock.Since(start); elapsed < convergeTimeout {
		t.Errorf("returned after %v, want at least %v", elapsed, convergeTimeout)
	}
}

func TestInitialSyncRejectsExcessiveOffset(t *testing.T) {
	s, _, sender := newTestSync(t)
	sender.Delay = 100 * time.Millisecond // 50ms half RTT, beyond the gate

	if err := s.InitialSync(context.Background()); err != nil {
		t.Fatalf("InitialSync failed: %v", err)
	}
	// The gate must have cleared the buffer and retried until the deadline.
	if s.Converged() {
		t.Fatal("offset beyond the gate must not converge")
	}
	if sender.sent <= bufferSize {
		t.Errorf("sent %d requests, expected retries past one full buffer", sender.sent)
	}
}

func TestDeltaBufferBoundedFIFO(t *testing.T) {
	s, clock, sender := newTestSync(t)
	sender.Delay = time.Millisecond

	for i := 0; i < bufferSize+20; i++ {
		if err := s.RequestSync(); err != nil {
			t.Fatalf("RequestSync failed: %v", err)
		}
		clock.Advance(10 * time.Millisecond)
	}
	if got := s.Stats().Samples; got != bufferSize {
		t.Errorf("buffer holds %d samples, want %d", got, bufferSize)
	}
}

func TestStaleReplyRejected(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	sender := &echoSender{clock: clock, Silent: true}
	s := New(sender, clock)
	sender.sync = s

	t1 := clock.Now().UnixNano()
	if err := s.RequestSync(); err != nil {
		t.Fatal(err)
	}
	clock.Advance(50 * time.Millisecond)
	t2 := clock.Now().UnixNano()
	if err := s.RequestSync(); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Millisecond)
	s.HandleReply(t2, t2+1000)
	if got := s.Stats().Samples; got != 1 {
		t.Fatalf("samples = %d after first reply, want 1", got)
	}
	before := s.Stats()

	// The reply for the earlier request arrives late: reject, mutate nothing.
	s.HandleReply(t1, t1+1000)
	after := s.Stats()
	if after.Samples != before.Samples || after.DriftNS != before.DriftNS {
		t.Errorf("stale reply mutated state: before %+v, after %+v", before, after)
	}
}

func TestUnknownReplyIgnored(t *testing.T) {
	s, _, _ := newTestSync(t)
	s.HandleReply(123456789, 987654321)
	if got := s.Stats().Samples; got != 0 {
		t.Errorf("samples = %d after unknown reply, want 0", got)
	}
}

func TestEstimateTimeExtrapolates(t *testing.T) {
	s, clock, sender := newTestSync(t)
	sender.OffsetNS = int64(3 * time.Second)

	if err := s.RequestSync(); err != nil {
		t.Fatal(err)
	}
	actual, ok := s.ActualTime()
	if !ok {
		t.Fatal("expected an estimate after one reply")
	}

	clock.Advance(500 * time.Millisecond)
	est, ok := s.EstimateTime()
	if !ok {
		t.Fatal("expected an extrapolated estimate")
	}
	if got := est - actual; got != int64(500*time.Millisecond) {
		t.Errorf("extrapolated %d ns past last reply, want %d", got, int64(500*time.Millisecond))
	}
}

func TestPendingTableExpires(t *testing.T) {
	s, clock, sender := newTestSync(t)
	sender.Silent = true

	for i := 0; i < 10; i++ {
		if err := s.RequestSync(); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	// Requests older than the expiry window must have been dropped.
	if pending > 6 {
		t.Errorf("pending table holds %d entries, expected expiry to cap it near %d", pending, 5)
	}
}
