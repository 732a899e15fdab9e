// Package fclink provides the MAVLink connection to the flight controller:
// transport, inbound frame demultiplexing, cached vehicle state, and the
// parameter protocol.
package fclink

import (
	"context"
	"fmt"
	"time"

	"github.com/talon-uas/precland/internal/mavlink"
)

// ErrConnect wraps transport-level connection failures. These are fatal at
// startup.
var ErrConnect = fmt.Errorf("fclink: connection failed")

// ErrParamTimeout is returned when the flight controller does not answer a
// parameter read or confirm a parameter write in time.
var ErrParamTimeout = fmt.Errorf("fclink: parameter request timed out")

// VehicleState is a snapshot of the flight-controller state the landing
// controller arbitrates on. It is refreshed from inbound HEARTBEAT and
// RC_CHANNELS traffic.
type VehicleState struct {
	Armed         bool
	Mode          string
	Channels      [18]uint16
	ChanCount     int
	LastHeartbeat time.Time
}

// Channel returns the PWM value of the 1-based RC channel n and whether the
// vehicle reports that channel at all.
func (s VehicleState) Channel(n int) (uint16, bool) {
	if n < 1 || n > s.ChanCount || n > len(s.Channels) {
		return 0, false
	}
	return s.Channels[n-1], true
}

// Link is the flight-controller connection used by the control engine.
type Link interface {
	// Monitor drains inbound frames until the context is cancelled or the
	// transport fails, updating vehicle state and dispatching callbacks.
	Monitor(ctx context.Context) error

	// Close shuts down the transport.
	Close() error

	// State returns the latest vehicle state snapshot.
	State() VehicleState

	// OnTimesync registers the handler invoked for every TIMESYNC reply,
	// with the echoed local send timestamp and the remote clock value, both
	// in nanoseconds. The handler runs on the Monitor goroutine.
	OnTimesync(fn func(sentNS, remoteNS int64))

	// SendTimesync sends a TIMESYNC message.
	SendTimesync(tc1, ts1 int64) error

	// SendLandingTarget forwards a landing-target detection.
	SendLandingTarget(m mavlink.LandingTarget) error

	// SendDistanceSensor forwards a synthetic rangefinder reading.
	SendDistanceSensor(m mavlink.DistanceSensor) error

	// SendHeartbeat announces this companion computer on the link.
	SendHeartbeat() error

	// ReadParam fetches a named parameter value.
	ReadParam(ctx context.Context, name string) (float32, error)

	// WriteParam sets a named parameter and waits for the echo confirming it.
	WriteParam(ctx context.Context, name string, value float32) error
}

// copterModes maps ArduCopter custom_mode values to flight mode names. Modes
// not listed here surface as their numeric value.
var copterModes = map[uint32]string{
	0:  "STABILIZE",
	1:  "ACRO",
	2:  "ALT_HOLD",
	3:  "AUTO",
	4:  "GUIDED",
	5:  "LOITER",
	6:  "RTL",
	7:  "CIRCLE",
	9:  "LAND",
	11: "DRIFT",
	13: "SPORT",
	14: "FLIP",
	15: "AUTOTUNE",
	16: "POSHOLD",
	17: "BRAKE",
	18: "THROW",
	19: "AVOID_ADSB",
	20: "GUIDED_NOGPS",
	21: "SMART_RTL",
	22: "FLOWHOLD",
	23: "FOLLOW",
	24: "ZIGZAG",
	25: "SYSTEMID",
	26: "AUTOROTATE",
	27: "AUTO_RTL",
}

// ModeName resolves an ArduCopter custom_mode value to a mode name.
func ModeName(customMode uint32) string {
	if name, ok := copterModes[customMode]; ok {
		return name
	}
	return fmt.Sprintf("MODE(%d)", customMode)
}
