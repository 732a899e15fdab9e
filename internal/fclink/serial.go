package fclink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/talon-uas/precland/internal/mavlink"
	"github.com/talon-uas/precland/internal/monitoring"
)

// Our identity on the link. System ID 1 is the vehicle; companion components
// conventionally use MAV_COMP_ID_ONBOARD_COMPUTER (191).
const (
	localSystemID  = 1
	localCompID    = 191
	paramRetryWait = 500 * time.Millisecond
)

// PortOptions describes serial connection parameters for device targets.
type PortOptions struct {
	BaudRate int `json:"baud_rate"`
}

// Normalize applies defaults for unset values.
func (o PortOptions) Normalize() PortOptions {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 921600
	}
	return opts
}

// MAVLinkConn implements Link over any framed byte stream: a serial device,
// or a TCP/UDP socket when flying SITL.
type MAVLinkConn struct {
	rwc io.ReadWriteCloser
	enc *mavlink.Encoder
	dec *mavlink.Decoder

	mu           sync.Mutex
	state        VehicleState
	timesyncFn   func(sentNS, remoteNS int64)
	paramWaiters map[string][]chan mavlink.ParamValue

	// target is the flight controller's system ID, learned from its first
	// heartbeat. Zero until then; param requests fall back to system 1.
	target uint8

	closing   bool
	closingMu sync.Mutex
}

// Connect opens a link to the flight controller. Targets of the form
// "tcp:host:port" or "udp:host:port" dial a SITL endpoint; anything else is
// treated as a serial device path.
func Connect(target string, opts PortOptions) (*MAVLinkConn, error) {
	var (
		rwc io.ReadWriteCloser
		err error
	)
	switch {
	case strings.HasPrefix(target, "tcp:"):
		rwc, err = net.DialTimeout("tcp", strings.TrimPrefix(target, "tcp:"), 10*time.Second)
	case strings.HasPrefix(target, "udp:"):
		rwc, err = net.Dial("udp", strings.TrimPrefix(target, "udp:"))
	default:
		mode := &serial.Mode{
			BaudRate: opts.Normalize().BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		rwc, err = serial.Open(target, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrConnect, target, err)
	}
	return NewMAVLinkConn(rwc), nil
}

// NewMAVLinkConn wraps an established byte stream in a Link. Exposed so tests
// can drive the codec over an in-memory pipe.
func NewMAVLinkConn(rwc io.ReadWriteCloser) *MAVLinkConn {
	return &MAVLinkConn{
		rwc:          rwc,
		enc:          mavlink.NewEncoder(rwc, localSystemID, localCompID),
		dec:          mavlink.NewDecoder(rwc),
		paramWaiters: make(map[string][]chan mavlink.ParamValue),
	}
}

// Monitor reads frames from the transport until the context is cancelled or
// the stream fails. Decoding runs on an inner goroutine feeding a channel so
// the blocking read never prevents cancellation.
func (c *MAVLinkConn) Monitor(ctx context.Context) error {
	frameChan := make(chan mavlink.Frame)
	errChan := make(chan error, 1)

	go func() {
		defer close(frameChan)
		for {
			frame, err := c.dec.Next()
			if err != nil {
				// Skippable link noise: resync and keep reading.
				if errors.Is(err, mavlink.ErrBadChecksum) || errors.Is(err, mavlink.ErrUnknownMessage) {
					continue
				}
				select {
				case errChan <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case frameChan <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errChan:
			c.closingMu.Lock()
			closing := c.closing
			c.closingMu.Unlock()
			if closing {
				return nil
			}
			return err

		case frame, ok := <-frameChan:
			if !ok {
				return nil
			}
			c.handleFrame(frame)
		}
	}
}

func (c *MAVLinkConn) handleFrame(frame mavlink.Frame) {
	switch frame.MsgID {
	case mavlink.MsgIDHeartbeat:
		hb, err := mavlink.DecodeHeartbeat(frame.Payload)
		if err != nil {
			monitoring.Debugf("fclink: dropping heartbeat: %v", err)
			return
		}
		// Other companions and GCS also heartbeat; only the autopilot's
		// heartbeat carries vehicle state.
		if hb.Autopilot == mavlink.AutopilotInvalid {
			return
		}
		c.mu.Lock()
		c.target = frame.SystemID
		c.state.Armed = hb.Armed()
		c.state.Mode = ModeName(hb.CustomMode)
		c.state.LastHeartbeat = time.Now()
		c.mu.Unlock()

	case mavlink.MsgIDRCChannels:
		rc, err := mavlink.DecodeRCChannels(frame.Payload)
		if err != nil {
			monitoring.Debugf("fclink: dropping rc_channels: %v", err)
			return
		}
		c.mu.Lock()
		c.state.Channels = rc.Channels
		c.state.ChanCount = int(rc.ChanCount)
		c.mu.Unlock()

	case mavlink.MsgIDTimesync:
		ts, err := mavlink.DecodeTimesync(frame.Payload)
		if err != nil {
			monitoring.Debugf("fclink: dropping timesync: %v", err)
			return
		}
		// TC1 == 0 marks a request from a peer, not a reply to us.
		if ts.TC1 == 0 {
			return
		}
		c.mu.Lock()
		fn := c.timesyncFn
		c.mu.Unlock()
		if fn != nil {
			fn(ts.TS1, ts.TC1)
		}

	case mavlink.MsgIDParamValue:
		pv, err := mavlink.DecodeParamValue(frame.Payload)
		if err != nil {
			monitoring.Debugf("fclink: dropping param_value: %v", err)
			return
		}
		c.mu.Lock()
		waiters := c.paramWaiters[pv.ParamID]
		delete(c.paramWaiters, pv.ParamID)
		c.mu.Unlock()
		for _, ch := range waiters {
			ch <- pv
		}
	}
}

// State returns the latest vehicle state snapshot.
func (c *MAVLinkConn) State() VehicleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnTimesync registers the TIMESYNC reply handler.
func (c *MAVLinkConn) OnTimesync(fn func(sentNS, remoteNS int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timesyncFn = fn
}

// SendTimesync sends a TIMESYNC message.
func (c *MAVLinkConn) SendTimesync(tc1, ts1 int64) error {
	return c.enc.Encode(mavlink.Timesync{TC1: tc1, TS1: ts1})
}

// SendLandingTarget forwards a landing-target detection.
func (c *MAVLinkConn) SendLandingTarget(m mavlink.LandingTarget) error {
	return c.enc.Encode(m)
}

// SendDistanceSensor forwards a synthetic rangefinder reading.
func (c *MAVLinkConn) SendDistanceSensor(m mavlink.DistanceSensor) error {
	return c.enc.Encode(m)
}

// SendHeartbeat announces this companion computer on the link.
func (c *MAVLinkConn) SendHeartbeat() error {
	return c.enc.Encode(mavlink.Heartbeat{
		Type:           mavlink.TypeOnboardController,
		Autopilot:      mavlink.AutopilotInvalid,
		SystemStatus:   mavlink.StateActive,
		MavlinkVersion: 3,
	})
}

func (c *MAVLinkConn) targetSystem() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.target == 0 {
		return 1
	}
	return c.target
}

func (c *MAVLinkConn) awaitParam(name string) chan mavlink.ParamValue {
	ch := make(chan mavlink.ParamValue, 1)
	c.mu.Lock()
	c.paramWaiters[name] = append(c.paramWaiters[name], ch)
	c.mu.Unlock()
	return ch
}

func (c *MAVLinkConn) dropParamWaiter(name string, ch chan mavlink.ParamValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.paramWaiters[name]
	for i, w := range waiters {
		if w == ch {
			c.paramWaiters[name] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

// ReadParam fetches a named parameter, retrying the request on the param
// cadence until the context expires.
func (c *MAVLinkConn) ReadParam(ctx context.Context, name string) (float32, error) {
	ch := c.awaitParam(name)
	defer c.dropParamWaiter(name, ch)

	req := mavlink.ParamRequestRead{
		ParamIndex:   -1,
		TargetSystem: c.targetSystem(),
		ParamID:      name,
	}
	for {
		if err := c.enc.Encode(req); err != nil {
			return 0, err
		}
		select {
		case pv := <-ch:
			return pv.ParamValue, nil
		case <-time.After(paramRetryWait):
			// request lost; resend
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: read %s: %v", ErrParamTimeout, name, ctx.Err())
		}
	}
}

// WriteParam sets a named parameter and waits for the PARAM_VALUE echo that
// confirms the flight controller accepted it.
func (c *MAVLinkConn) WriteParam(ctx context.Context, name string, value float32) error {
	ch := c.awaitParam(name)
	defer c.dropParamWaiter(name, ch)

	set := mavlink.ParamSet{
		ParamValue:   value,
		TargetSystem: c.targetSystem(),
		ParamID:      name,
		ParamType:    mavlink.ParamTypeReal32,
	}
	for {
		if err := c.enc.Encode(set); err != nil {
			return err
		}
		select {
		case pv := <-ch:
			if pv.ParamValue != value {
				return fmt.Errorf("fclink: param %s set to %v but echoed %v", name, value, pv.ParamValue)
			}
			return nil
		case <-time.After(paramRetryWait):
		case <-ctx.Done():
			return fmt.Errorf("%w: write %s: %v", ErrParamTimeout, name, ctx.Err())
		}
	}
}

// Close shuts down the transport. A Monitor blocked in a read returns nil
// once closing is flagged.
func (c *MAVLinkConn) Close() error {
	c.closingMu.Lock()
	c.closing = true
	c.closingMu.Unlock()
	return c.rwc.Close()
}
