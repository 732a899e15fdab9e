// Package clocksync estimates the offset between the companion computer's
// clock and the flight controller's clock from round-trip TIMESYNC exchanges,
// so vision detections can be timestamped in the controller's time domain.
package clocksync

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/talon-uas/precland/internal/monitoring"
	"github.com/talon-uas/precland/internal/timeutil"
)

const (
	// bufferSize bounds the rolling delta and difference buffers.
	bufferSize = 50

	// requestPause is the delay between convergence requests. Flight
	// controllers misbehave under high-frequency sync traffic.
	requestPause = 100 * time.Millisecond

	// convergeTimeout bounds InitialSync.
	convergeTimeout = 15 * time.Second

	// maxOffset is the acceptance gate on the converged mean offset. Beyond
	// this, timestamps cannot be correlated with frames and attitude.
	maxOffset = 40 * time.Millisecond

	// pendingExpiry bounds the pending-request table. A reply this late is
	// useless for estimation anyway.
	pendingExpiry = 5 * time.Second
)

// Sender is the part of the flight-controller link the synchronizer needs.
type Sender interface {
	SendTimesync(tc1, ts1 int64) error
}

// Synchronizer tracks the remote clock. HandleReply runs on the link's
// receive goroutine; everything else runs on the control loop. All state is
// guarded by one mutex so readers always observe a consistent snapshot.
type Synchronizer struct {
	link  Sender
	clock timeutil.Clock

	mu           sync.Mutex
	pending      map[int64]int64 // local send ns -> recorded local ns
	lastAccepted int64

	deltaBuf []float64 // ns
	diffBuf  []float64 // ns

	converged bool
	deltaNS   float64
	driftNS   float64

	estRemoteNS      int64
	lastReplyLocalNS int64
}

// New creates a Synchronizer sending requests over link and reading time
// from clock.
func New(link Sender, clock timeutil.Clock) *Synchronizer {
	return &Synchronizer{
		link:    link,
		clock:   clock,
		pending: make(map[int64]int64),
	}
}

// RequestSync records a pending exchange and sends one sync request. It does
// not wait for the reply.
func (s *Synchronizer) RequestSync() error {
	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	for sent := range s.pending {
		if now-sent > int64(pendingExpiry) {
			delete(s.pending, sent)
		}
	}
	s.pending[now] = now
	s.mu.Unlock()

	return s.link.SendTimesync(0, now)
}

// HandleReply processes one sync reply carrying our echoed send timestamp and
// the remote clock value, both nanoseconds. Malformed or stale replies are
// logged and ignored; nothing escapes this callback.
func (s *Synchronizer) HandleReply(sentNS, remoteNS int64) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("clocksync: fault handling sync reply: %v", r)
		}
	}()

	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	sendLocal, ok := s.pending[sentNS]
	if !ok {
		monitoring.Debugf("clocksync: reply for unknown or expired request %d", sentNS)
		return
	}
	delete(s.pending, sentNS)

	if sentNS < s.lastAccepted {
		monitoring.Logf("clocksync: rejecting out-of-order reply (sent %d < last accepted %d)", sentNS, s.lastAccepted)
		return
	}
	s.lastAccepted = sentNS

	// Midpoint of the round trip approximates the local time at which the
	// remote clock was read.
	avg := (sendLocal + now) / 2
	instant := float64(now - avg)
	s.deltaBuf = appendBounded(s.deltaBuf, instant)

	delta := instant
	if s.converged {
		s.deltaNS = stat.Mean(s.deltaBuf, nil)
		delta = s.deltaNS
	}
	s.estRemoteNS = remoteNS - int64(delta)

	s.diffBuf = appendBounded(s.diffBuf, float64(now-s.estRemoteNS))
	s.driftNS = stat.Mean(s.diffBuf, nil)

	s.lastReplyLocalNS = now
}

// appendBounded pushes v, evicting the oldest sample past bufferSize.
func appendBounded(buf []float64, v float64) []float64 {
	buf = append(buf, v)
	if len(buf) > bufferSize {
		buf = buf[1:]
	}
	return buf
}

// InitialSync runs the blocking convergence loop: request, pause, repeat until
// a full buffer of samples is collected or the deadline passes. A converged
// mean offset beyond the acceptance gate clears the buffer and retries within
// the same deadline. On timeout the offset stays unset and estimation runs
// degraded.
func (s *Synchronizer) InitialSync(ctx context.Context) error {
	start := s.clock.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.RequestSync(); err != nil {
			monitoring.Logf("clocksync: sync request failed: %v", err)
		}
		s.clock.Sleep(requestPause)

		s.mu.Lock()
		if len(s.deltaBuf) >= bufferSize {
			mean := stat.Mean(s.deltaBuf, nil)
			jitter := stat.StdDev(s.deltaBuf, nil)
			if math.Abs(mean) > float64(maxOffset) {
				monitoring.Logf("clocksync: converged offset %.2fms exceeds %.0fms, retrying",
					mean/1e6, float64(maxOffset)/1e6)
				s.deltaBuf = s.deltaBuf[:0]
				s.mu.Unlock()
				continue
			}
			s.deltaNS = mean
			s.converged = true
			s.mu.Unlock()
			monitoring.Logf("clocksync: converged: offset %.3fms, jitter %.3fms", mean/1e6, jitter/1e6)
			return nil
		}
		s.mu.Unlock()

		if s.clock.Since(start) >= convergeTimeout {
			monitoring.Logf("clocksync: no convergence within %s, running without clock offset", convergeTimeout)
			return nil
		}
	}
}

// Converged reports whether a full-buffer offset was accepted.
func (s *Synchronizer) Converged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.converged
}

// ActualTime returns the remote clock value computed at the last accepted
// reply, in nanoseconds, and whether any reply has been accepted yet.
func (s *Synchronizer) ActualTime() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReplyLocalNS == 0 {
		return 0, false
	}
	return s.estRemoteNS, true
}

// EstimateTime extrapolates the remote clock to now using the time elapsed
// since the last reply.
func (s *Synchronizer) EstimateTime() (int64, bool) {
	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastReplyLocalNS == 0 {
		return 0, false
	}
	return s.estRemoteNS + (now - s.lastReplyLocalNS), true
}

// Snapshot is a point-in-time view of the estimator, for status reporting
// and the flight log.
type Snapshot struct {
	Converged bool
	Samples   int
	OffsetNS  float64
	DriftNS   float64
	JitterNS  float64
}

// Stats returns the current estimator snapshot.
func (s *Synchronizer) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Converged: s.converged,
		Samples:   len(s.deltaBuf),
		OffsetNS:  s.deltaNS,
		DriftNS:   s.driftNS,
	}
	if len(s.deltaBuf) > 1 {
		snap.JitterNS = stat.StdDev(s.deltaBuf, nil)
	}
	return snap
}
