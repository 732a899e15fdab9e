package control

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/talon-uas/precland/internal/monitoring"
)

// abortThreshold is the signal count at which shutdown stops being polite.
const abortThreshold = 3

// ShutdownCoordinator converts repeated termination signals into bounded,
// idempotent shutdown: the first two signals ask the loop to terminate the
// tracker and let the reap path wind the process down; the third aborts
// immediately, the escape hatch against a wedged shutdown.
type ShutdownCoordinator struct {
	mu        sync.Mutex
	count     int
	terminate func()
	abort     func()
	sigCh     chan os.Signal
	done      chan struct{}
}

// NewShutdownCoordinator creates a coordinator invoking terminate on the
// first and second signal. The third signal exits the process.
func NewShutdownCoordinator(terminate func()) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		terminate: terminate,
		abort: func() {
			os.Exit(1)
		},
		done: make(chan struct{}),
	}
}

// Listen installs the SIGINT/SIGTERM handler. Call Stop to uninstall.
func (c *ShutdownCoordinator) Listen() {
	c.sigCh = make(chan os.Signal, abortThreshold)
	signal.Notify(c.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case sig := <-c.sigCh:
				c.Signal(sig.String())
			case <-c.done:
				return
			}
		}
	}()
}

// Stop uninstalls the signal handler.
func (c *ShutdownCoordinator) Stop() {
	if c.sigCh != nil {
		signal.Stop(c.sigCh)
	}
	close(c.done)
}

// Signal records one termination signal and applies the escalation policy.
// Split from the handler goroutine so tests can drive it directly.
func (c *ShutdownCoordinator) Signal(name string) {
	c.mu.Lock()
	c.count++
	count := c.count
	c.mu.Unlock()

	if count >= abortThreshold {
		monitoring.Logf("shutdown: signal %s (%d of %d), aborting now", name, count, abortThreshold)
		c.abort()
		return
	}

	monitoring.Logf("shutdown: signal %s (%d of %d), terminating tracker", name, count, abortThreshold)
	c.terminate()
}

// Count returns the number of termination signals observed.
func (c *ShutdownCoordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
