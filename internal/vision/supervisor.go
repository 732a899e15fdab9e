// Package vision supervises the external vision-tracking process: launch,
// output relay, start/stop signalling, and orderly shutdown.
package vision

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/talon-uas/precland/internal/monitoring"
	"github.com/talon-uas/precland/internal/timeutil"
)

// State is the supervisor's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateLaunching
	StateInitialized
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLaunching:
		return "launching"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrLaunch wraps process spawn failures. Fatal at startup.
var ErrLaunch = fmt.Errorf("vision: launch failed")

// queueSize bounds the shared line queue. Reader pushes never block: on a
// full queue the oldest line is dropped and counted.
const queueSize = 1024

// frameIntervalWindow is the rolling window for the frame cadence diagnostic.
const frameIntervalWindow = 5

// Supervisor owns one external tracker process and its output streams. One
// Supervisor drives exactly one process; crash recovery replaces the whole
// Supervisor rather than reusing it.
type Supervisor struct {
	path  string
	args  []string
	clock timeutil.Clock

	lines   chan string
	dropped atomic.Int64

	cmd     *exec.Cmd
	readers sync.WaitGroup
	waitCh  chan struct{}

	mu        sync.Mutex
	state     State
	shutdown  bool
	exitCode  int
	lastFrame time.Time
	intervals []time.Duration
}

// New creates a Supervisor for the tracker at path with the given argument
// list. The process is not started until Launch.
func New(path string, args []string, clock timeutil.Clock) *Supervisor {
	return &Supervisor{
		path:   path,
		args:   args,
		clock:  clock,
		lines:  make(chan string, queueSize),
		waitCh: make(chan struct{}),
	}
}

// Launch spawns the tracker and attaches one reader per output stream, both
// feeding the shared line queue. Lines from stderr are tagged as error
// records regardless of content.
func (s *Supervisor) Launch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		monitoring.Logf("vision: launch ignored in state %s", s.state)
		return nil
	}

	cmd := exec.Command(s.path, s.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrLaunch, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrLaunch, s.path, err)
	}
	s.cmd = cmd
	s.state = StateLaunching
	monitoring.Logf("vision: launched %s (pid %d)", s.path, cmd.Process.Pid)

	s.readers.Add(2)
	go s.readStream(stdout, "")
	go s.readStream(stderr, "error:")

	// Reap only after both readers hit EOF; Wait closes the pipes.
	go func() {
		s.readers.Wait()
		err := cmd.Wait()
		s.mu.Lock()
		s.exitCode = exitCode(err)
		s.mu.Unlock()
		close(s.waitCh)
	}()

	return nil
}

func (s *Supervisor) readStream(r io.Reader, tag string) {
	defer s.readers.Done()
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		s.push(tag + scan.Text())
	}
	if err := scan.Err(); err != nil {
		monitoring.Debugf("vision: stream reader stopped: %v", err)
	}
}

// push enqueues a line without ever blocking the reader: when the queue is
// full the oldest line is evicted first.
func (s *Supervisor) push(line string) {
	select {
	case s.lines <- line:
		return
	default:
	}
	select {
	case <-s.lines:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.lines <- line:
	default:
		s.dropped.Add(1)
	}
}

// PollLine pops one queued line. With a positive timeout it blocks up to that
// long; otherwise it returns immediately.
func (s *Supervisor) PollLine(timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		select {
		case line := <-s.lines:
			return line, true
		default:
			return "", false
		}
	}
	select {
	case line := <-s.lines:
		return line, true
	case <-s.clock.After(timeout):
		return "", false
	}
}

// ProcessLine parses one record and applies its side effects: info:initcomp
// completes initialization, error records are logged, debug records are
// logged when verbose. A target record is returned to the caller for
// forwarding.
func (s *Supervisor) ProcessLine(line string) *TargetObservation {
	rec, err := ParseRecord(line)
	if err != nil {
		monitoring.Logf("vision: %v", err)
		return nil
	}

	switch rec.Kind {
	case KindTarget:
		s.observeFrame()
		return rec.Target

	case KindInfo:
		if rec.Payload == "initcomp" {
			s.mu.Lock()
			if s.state == StateLaunching {
				s.state = StateInitialized
				monitoring.Logf("vision: tracker initialization complete")
			}
			s.mu.Unlock()
		} else {
			monitoring.Logf("vision: %s", rec.Payload)
		}

	case KindError:
		monitoring.Logf("vision: tracker error: %s", rec.Payload)

	case KindDebug:
		monitoring.Debugf("vision: %s", rec.Payload)

	default:
		monitoring.Debugf("vision: unrecognized line: %q", line)
	}
	return nil
}

// observeFrame updates the rolling frame-interval average.
func (s *Supervisor) observeFrame() {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastFrame.IsZero() {
		s.intervals = append(s.intervals, now.Sub(s.lastFrame))
		if len(s.intervals) > frameIntervalWindow {
			s.intervals = s.intervals[1:]
		}
	}
	s.lastFrame = now
}

// FrameInterval returns the rolling average interval between target frames,
// or zero before two frames have been seen.
func (s *Supervisor) FrameInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.intervals) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.intervals {
		sum += d
	}
	return sum / time.Duration(len(s.intervals))
}

// Start resumes active tracking. Legal only from Initialized; anything else
// is a logged no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInitialized {
		monitoring.Logf("vision: start ignored in state %s", s.state)
		return
	}
	s.signal(syscall.SIGUSR1)
	s.state = StateRunning
	monitoring.Logf("vision: tracking started")
}

// Stop pauses tracking. Legal only from Running; anything else is a logged
// no-op.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		monitoring.Logf("vision: stop ignored in state %s", s.state)
		return
	}
	s.signal(syscall.SIGUSR2)
	s.state = StateInitialized
	monitoring.Logf("vision: tracking stopped")
}

// Terminate requests process shutdown. Legal from any state and idempotent.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	s.state = StateTerminated
	s.signal(syscall.SIGTERM)
	monitoring.Logf("vision: terminate requested")
}

// Abort kills the process outright. Escape hatch for a wedged shutdown.
func (s *Supervisor) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

// signal delivers an out-of-band control signal. Caller holds the lock.
func (s *Supervisor) signal(sig syscall.Signal) {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	if err := s.cmd.Process.Signal(sig); err != nil {
		monitoring.Logf("vision: signal %v failed: %v", sig, err)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ShutdownRequested reports whether Terminate has been called.
func (s *Supervisor) ShutdownRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// Exited reports whether the process has been reaped.
func (s *Supervisor) Exited() bool {
	select {
	case <-s.waitCh:
		return true
	default:
		return false
	}
}

// WaitDone returns a channel closed once the process has been reaped.
func (s *Supervisor) WaitDone() <-chan struct{} {
	return s.waitCh
}

// ExitCode returns the reaped process's exit code. Only meaningful once
// Exited reports true.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// DroppedLines returns the count of lines evicted from a full queue.
func (s *Supervisor) DroppedLines() int64 {
	return s.dropped.Load()
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
