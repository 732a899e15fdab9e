// Package control ties the clock synchronizer, the vision supervisor, and
// the flight-controller link together: mode-based arbitration, detection
// forwarding, crash recovery, and bounded shutdown.
package control

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/talon-uas/precland/internal/clocksync"
	"github.com/talon-uas/precland/internal/config"
	"github.com/talon-uas/precland/internal/fclink"
	"github.com/talon-uas/precland/internal/mavlink"
	"github.com/talon-uas/precland/internal/monitoring"
	"github.com/talon-uas/precland/internal/timeutil"
	"github.com/talon-uas/precland/internal/vision"
)

// idleSleep bounds CPU usage when the tracker has nothing queued.
const idleSleep = 1 * time.Second

// backlogPoll is the bounded wait used while draining startup backlog.
const backlogPoll = 50 * time.Millisecond

// syncSampleInterval is the flight-log cadence for sync estimates.
const syncSampleInterval = 1 * time.Second

// ErrRestartLimit is returned when the tracker crashes more times than the
// configured relaunch cap allows.
var ErrRestartLimit = fmt.Errorf("control: tracker restart limit exceeded")

// Recorder receives flight-log events. A nil Recorder disables logging.
type Recorder interface {
	RecordSyncSample(at time.Time, snap clocksync.Snapshot)
	RecordTarget(at time.Time, timeUsec int64, obs vision.TargetObservation)
}

// Loop is the single orchestration loop. It exclusively owns the clock
// synchronizer and the current supervisor, replacing the latter wholesale on
// crash recovery.
type Loop struct {
	cfg   *config.Config
	link  fclink.Link
	clock timeutil.Clock
	sync  *clocksync.Synchronizer
	store Recorder

	mu       sync.Mutex
	sup      *vision.Supervisor
	restarts int

	tapMu  sync.Mutex
	taps   map[int]chan string
	tapSeq int

	wasArmed       bool
	lastSyncSample time.Time
}

// New wires a Loop to the link. The synchronizer's reply handler is
// registered here; it runs on the link's receive goroutine.
func New(cfg *config.Config, link fclink.Link, clock timeutil.Clock, store Recorder) *Loop {
	l := &Loop{
		cfg:   cfg,
		link:  link,
		clock: clock,
		sync:  clocksync.New(link, clock),
		store: store,
		taps:  make(map[int]chan string),
	}
	link.OnTimesync(l.sync.HandleReply)
	return l
}

// Synchronizer exposes the clock estimator for status reporting.
func (l *Loop) Synchronizer() *clocksync.Synchronizer { return l.sync }

// Supervisor returns the current supervisor, or nil before Run launches one.
func (l *Loop) Supervisor() *vision.Supervisor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sup
}

// Restarts returns the number of crash recoveries performed.
func (l *Loop) Restarts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.restarts
}

// RequestShutdown asks the current supervisor to terminate. The loop then
// winds down through its normal reap path. Safe to call repeatedly and from
// signal context.
func (l *Loop) RequestShutdown() {
	l.mu.Lock()
	sup := l.sup
	l.mu.Unlock()
	if sup != nil {
		sup.Terminate()
	}
}

// Subscribe registers a live tap on the tracker line stream, as consumed by
// the loop. Taps survive crash recovery; slow consumers miss lines rather
// than stalling the loop.
func (l *Loop) Subscribe() (int, <-chan string) {
	l.tapMu.Lock()
	defer l.tapMu.Unlock()
	l.tapSeq++
	id := l.tapSeq
	ch := make(chan string, 64)
	l.taps[id] = ch
	return id, ch
}

// Unsubscribe removes a tap registered by Subscribe.
func (l *Loop) Unsubscribe(id int) {
	l.tapMu.Lock()
	defer l.tapMu.Unlock()
	if ch, ok := l.taps[id]; ok {
		delete(l.taps, id)
		close(ch)
	}
}

func (l *Loop) publish(line string) {
	l.tapMu.Lock()
	defer l.tapMu.Unlock()
	for _, ch := range l.taps {
		select {
		case ch <- line:
		default:
		}
	}
}

func (l *Loop) setSupervisor(sup *vision.Supervisor) {
	l.mu.Lock()
	l.sup = sup
	l.mu.Unlock()
}

func (l *Loop) launchSupervisor() (*vision.Supervisor, error) {
	sup := vision.New(l.cfg.GetTrackerPath(), l.cfg.TrackerArgs(), l.clock)
	if err := sup.Launch(); err != nil {
		return nil, err
	}
	l.setSupervisor(sup)
	return sup, nil
}

// Run launches the tracker, converges the clock, and enters the control
// loop. It returns the tracker's exit code once the process exits after an
// explicit shutdown request, or an error for unrecoverable failures.
func (l *Loop) Run(ctx context.Context) (int, error) {
	sup, err := l.launchSupervisor()
	if err != nil {
		return 0, err
	}

	if err := l.sync.InitialSync(ctx); err != nil {
		// Cancellation during convergence: shut the tracker down and wait
		// for it rather than leaving it orphaned.
		sup.Terminate()
		<-sup.WaitDone()
		return sup.ExitCode(), err
	}

	l.drainBacklog(sup)

	for {
		if ctx.Err() != nil && !sup.ShutdownRequested() {
			monitoring.Logf("control: context cancelled, requesting shutdown")
			sup.Terminate()
		}

		if err := l.sync.RequestSync(); err != nil {
			monitoring.Logf("control: sync request failed: %v", err)
		}
		l.recordSyncSample()

		state := l.link.State()
		l.arbitrate(sup, state)

		if line, ok := sup.PollLine(0); ok {
			l.publish(line)
			if obs := sup.ProcessLine(line); obs != nil {
				l.forward(*obs)
			}
		} else {
			l.clock.Sleep(idleSleep)
		}

		// Bench/SITL hook: a disarm outside of shutdown stops the run.
		if l.cfg.GetDisarmShutdown() && l.wasArmed && !state.Armed && !sup.ShutdownRequested() {
			monitoring.Logf("control: vehicle disarmed, terminating tracker")
			sup.Terminate()
		}
		l.wasArmed = state.Armed

		if !sup.Exited() {
			continue
		}

		if sup.ShutdownRequested() {
			monitoring.Logf("control: tracker exited after shutdown (code %d)", sup.ExitCode())
			return sup.ExitCode(), nil
		}

		// Unexpected exit. Recovery replaces the whole supervisor; lines
		// queued by the dead instance are discarded with it.
		sup, err = l.recover(sup)
		if err != nil {
			return sup.ExitCode(), err
		}
	}
}

// recover performs crash recovery after an unexpected tracker exit.
func (l *Loop) recover(old *vision.Supervisor) (*vision.Supervisor, error) {
	monitoring.Logf("control: tracker exited unexpectedly in state %s (code %d)", old.State(), old.ExitCode())

	l.mu.Lock()
	l.restarts++
	restarts := l.restarts
	l.mu.Unlock()

	if limit := l.cfg.GetRestartLimit(); limit > 0 && restarts > limit {
		return old, fmt.Errorf("%w: %d crashes (limit %d)", ErrRestartLimit, restarts, limit)
	}

	sup, err := l.launchSupervisor()
	if err != nil {
		return old, err
	}
	monitoring.Logf("control: tracker relaunched (restart %d)", restarts)
	return sup, nil
}

// arbitrate applies mode gating: start tracking when the vehicle state calls
// for it and the tracker is idle; stop when it no longer does.
func (l *Loop) arbitrate(sup *vision.Supervisor, state fclink.VehicleState) {
	active := l.shouldTrack(state)
	switch {
	case active && sup.State() == vision.StateInitialized:
		sup.Start()
	case !active && sup.State() == vision.StateRunning:
		sup.Stop()
	}
}

// shouldTrack evaluates the configured trigger conditions against vehicle
// state. With mode gating disabled, tracking runs whenever the tracker is
// ready.
func (l *Loop) shouldTrack(state fclink.VehicleState) bool {
	if !l.cfg.GetModeGating() {
		return true
	}
	if !state.Armed {
		return false
	}
	if slices.Contains(l.cfg.GetLandModes(), state.Mode) {
		return true
	}
	if slices.Contains(l.cfg.GetLoiterModes(), state.Mode) {
		pwm, ok := state.Channel(l.cfg.GetPrecisionChannel())
		return ok && int(pwm) >= l.cfg.GetChannelThreshold()
	}
	return false
}

// forward converts a detection into a landing-target message stamped in the
// flight controller's time domain, plus the optional synthetic rangefinder
// reading.
func (l *Loop) forward(obs vision.TargetObservation) {
	timeUsec := l.captureTimeUsec()

	lt := mavlink.LandingTarget{
		TimeUsec:  uint64(timeUsec),
		AngleX:    float32(obs.XOffsetRad),
		AngleY:    float32(obs.YOffsetRad),
		Distance:  float32(obs.DistanceMeters),
		TargetNum: 0,
		Frame:     mavlink.FrameBodyNED,
	}
	if err := l.link.SendLandingTarget(lt); err != nil {
		monitoring.Logf("control: landing target send failed: %v", err)
		return
	}

	if l.cfg.GetFakeRangefinder() {
		ds := mavlink.DistanceSensor{
			TimeBootMS:      uint32(timeUsec / 1000),
			MinDistance:     uint16(l.cfg.GetRangefinderMinCM()),
			MaxDistance:     uint16(l.cfg.GetRangefinderMaxCM()),
			CurrentDistance: uint16(math.Round(obs.DistanceMeters * 100)),
			Type:            mavlink.DistanceSensorLaser,
			Orientation:     mavlink.RotationPitch270,
		}
		if err := l.link.SendDistanceSensor(ds); err != nil {
			monitoring.Logf("control: distance sensor send failed: %v", err)
		}
	}

	if l.store != nil {
		l.store.RecordTarget(l.clock.Now(), timeUsec, obs)
	}
}

// captureTimeUsec stamps a detection in the remote time domain, degrading to
// the local clock when synchronization never converged.
func (l *Loop) captureTimeUsec() int64 {
	if est, ok := l.sync.EstimateTime(); ok {
		return est / 1000
	}
	return l.clock.Now().UnixNano() / 1000
}

// drainBacklog discards lines queued while the tracker and the clock sync
// were starting, so stale detections never reach the flight controller. The
// initcomp transition and error records still apply.
func (l *Loop) drainBacklog(sup *vision.Supervisor) {
	discarded := 0
	for {
		line, ok := sup.PollLine(backlogPoll)
		if !ok {
			break
		}
		l.publish(line)
		rec, err := vision.ParseRecord(line)
		if err != nil {
			continue
		}
		switch rec.Kind {
		case vision.KindInfo, vision.KindError:
			sup.ProcessLine(line)
		default:
			discarded++
		}
	}
	if discarded > 0 {
		monitoring.Logf("control: discarded %d stale tracker lines from startup backlog", discarded)
	}
}

func (l *Loop) recordSyncSample() {
	if l.store == nil {
		return
	}
	now := l.clock.Now()
	if now.Sub(l.lastSyncSample) < syncSampleInterval {
		return
	}
	l.lastSyncSample = now
	l.store.RecordSyncSample(now, l.sync.Stats())
}
