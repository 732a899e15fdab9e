package fclink

import (
	"context"
	"sync"

	"github.com/talon-uas/precland/internal/mavlink"
)

// MockLink implements Link with scripted state for testing the control
// engine without a flight controller.
type MockLink struct {
	mu         sync.Mutex
	state      VehicleState
	timesyncFn func(sentNS, remoteNS int64)
	params     map[string]float32

	LandingTargets  []mavlink.LandingTarget
	DistanceSensors []mavlink.DistanceSensor
	Timesyncs       []mavlink.Timesync
	Heartbeats      int

	// RemoteOffsetNS, when non-zero, makes every SendTimesync answer
	// immediately as if the flight controller's clock ran offset from ours.
	RemoteOffsetNS int64
}

// NewMockLink creates a MockLink with no vehicle state.
func NewMockLink() *MockLink {
	return &MockLink{params: make(map[string]float32)}
}

// SetState replaces the scripted vehicle state.
func (m *MockLink) SetState(s VehicleState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SetParam seeds a scripted parameter value.
func (m *MockLink) SetParam(name string, value float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[name] = value
}

// TriggerTimesync invokes the registered reply handler, simulating a reply
// arriving on the receive goroutine.
func (m *MockLink) TriggerTimesync(sentNS, remoteNS int64) {
	m.mu.Lock()
	fn := m.timesyncFn
	m.mu.Unlock()
	if fn != nil {
		fn(sentNS, remoteNS)
	}
}

func (m *MockLink) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *MockLink) Close() error { return nil }

func (m *MockLink) State() VehicleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockLink) OnTimesync(fn func(sentNS, remoteNS int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timesyncFn = fn
}

func (m *MockLink) SendTimesync(tc1, ts1 int64) error {
	m.mu.Lock()
	m.Timesyncs = append(m.Timesyncs, mavlink.Timesync{TC1: tc1, TS1: ts1})
	offset := m.RemoteOffsetNS
	fn := m.timesyncFn
	m.mu.Unlock()

	if offset != 0 && fn != nil {
		fn(ts1, ts1+offset)
	}
	return nil
}

func (m *MockLink) SendLandingTarget(msg mavlink.LandingTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LandingTargets = append(m.LandingTargets, msg)
	return nil
}

func (m *MockLink) SendDistanceSensor(msg mavlink.DistanceSensor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DistanceSensors = append(m.DistanceSensors, msg)
	return nil
}

func (m *MockLink) SendHeartbeat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Heartbeats++
	return nil
}

func (m *MockLink) ReadParam(ctx context.Context, name string) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.params[name]
	if !ok {
		return 0, ErrParamTimeout
	}
	return v, nil
}

func (m *MockLink) WriteParam(ctx context.Context, name string, value float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[name] = value
	return nil
}

// LandingTargetCount returns the number of landing targets sent so far. Safe
// to call while the link is in use.
func (m *MockLink) LandingTargetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.LandingTargets)
}

// Params returns a copy of the scripted parameter table.
func (m *MockLink) Params() map[string]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float32, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}
