package mavlink

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Message IDs from the common dialect.
const (
	MsgIDHeartbeat        uint8 = 0
	MsgIDParamRequestRead uint8 = 20
	MsgIDParamValue       uint8 = 22
	MsgIDParamSet         uint8 = 23
	MsgIDRCChannels       uint8 = 65
	MsgIDTimesync         uint8 = 111
	MsgIDDistanceSensor   uint8 = 132
	MsgIDLandingTarget    uint8 = 149
)

// Enum values used on this link.
const (
	// MAV_TYPE_ONBOARD_CONTROLLER: what we identify as in our heartbeat.
	TypeOnboardController uint8 = 18
	// MAV_AUTOPILOT_INVALID: companion computers carry no autopilot.
	AutopilotInvalid uint8 = 8
	// MAV_STATE_ACTIVE
	StateActive uint8 = 4
	// MAV_MODE_FLAG_SAFETY_ARMED bit in heartbeat base_mode.
	ModeFlagSafetyArmed uint8 = 128
	// MAV_MODE_FLAG_CUSTOM_MODE_ENABLED: custom_mode carries the flight mode.
	ModeFlagCustomModeEnabled uint8 = 1
	// MAV_FRAME_BODY_NED: reference frame for landing-target offsets.
	FrameBodyNED uint8 = 8
	// MAV_SENSOR_ROTATION_PITCH_270: downward-facing sensor orientation.
	RotationPitch270 uint8 = 25
	// MAV_DISTANCE_SENSOR_LASER
	DistanceSensorLaser uint8 = 0
	// MAV_PARAM_TYPE_REAL32: ArduPilot exchanges all params as float32.
	ParamTypeReal32 uint8 = 9
)

var le = binary.LittleEndian

// Heartbeat (HEARTBEAT, id 0).
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (Heartbeat) MsgID() uint8 { return MsgIDHeartbeat }

func (m Heartbeat) MarshalPayload() []byte {
	p := make([]byte, 9)
	le.PutUint32(p[0:], m.CustomMode)
	p[4] = m.Type
	p[5] = m.Autopilot
	p[6] = m.BaseMode
	p[7] = m.SystemStatus
	p[8] = m.MavlinkVersion
	return p
}

// DecodeHeartbeat parses a HEARTBEAT payload.
func DecodeHeartbeat(p []byte) (Heartbeat, error) {
	if len(p) < 9 {
		return Heartbeat{}, fmt.Errorf("heartbeat payload too short: %d bytes", len(p))
	}
	return Heartbeat{
		CustomMode:     le.Uint32(p[0:]),
		Type:           p[4],
		Autopilot:      p[5],
		BaseMode:       p[6],
		SystemStatus:   p[7],
		MavlinkVersion: p[8],
	}, nil
}

// Armed reports whether the safety-armed flag is set.
func (m Heartbeat) Armed() bool {
	return m.BaseMode&ModeFlagSafetyArmed != 0
}

// Timesync (TIMESYNC, id 111). A request carries TC1=0 and TS1 set to the
// sender's timestamp; the responder echoes TS1 and fills TC1 with its own
// clock. ArduPilot uses nanoseconds in both fields.
type Timesync struct {
	TC1 int64
	TS1 int64
}

func (Timesync) MsgID() uint8 { return MsgIDTimesync }

func (m Timesync) MarshalPayload() []byte {
	p := make([]byte, 16)
	le.PutUint64(p[0:], uint64(m.TC1))
	le.PutUint64(p[8:], uint64(m.TS1))
	return p
}

// DecodeTimesync parses a TIMESYNC payload.
func DecodeTimesync(p []byte) (Timesync, error) {
	if len(p) < 16 {
		return Timesync{}, fmt.Errorf("timesync payload too short: %d bytes", len(p))
	}
	return Timesync{
		TC1: int64(le.Uint64(p[0:])),
		TS1: int64(le.Uint64(p[8:])),
	}, nil
}

// RCChannels (RC_CHANNELS, id 65).
type RCChannels struct {
	TimeBootMS uint32
	Channels   [18]uint16
	ChanCount  uint8
	RSSI       uint8
}

func (RCChannels) MsgID() uint8 { return MsgIDRCChannels }

func (m RCChannels) MarshalPayload() []byte {
	p := make([]byte, 42)
	le.PutUint32(p[0:], m.TimeBootMS)
	for i, ch := range m.Channels {
		le.PutUint16(p[4+2*i:], ch)
	}
	p[40] = m.ChanCount
	p[41] = m.RSSI
	return p
}

// DecodeRCChannels parses an RC_CHANNELS payload.
func DecodeRCChannels(p []byte) (RCChannels, error) {
	if len(p) < 42 {
		return RCChannels{}, fmt.Errorf("rc_channels payload too short: %d bytes", len(p))
	}
	m := RCChannels{
		TimeBootMS: le.Uint32(p[0:]),
		ChanCount:  p[40],
		RSSI:       p[41],
	}
	for i := range m.Channels {
		m.Channels[i] = le.Uint16(p[4+2*i:])
	}
	return m, nil
}

// LandingTarget (LANDING_TARGET, id 149). Angles are radians off the camera
// bore axis; distance is meters to the target.
type LandingTarget struct {
	TimeUsec  uint64
	AngleX    float32
	AngleY    float32
	Distance  float32
	SizeX     float32
	SizeY     float32
	TargetNum uint8
	Frame     uint8
}

func (LandingTarget) MsgID() uint8 { return MsgIDLandingTarget }

func (m LandingTarget) MarshalPayload() []byte {
	p := make([]byte, 30)
	le.PutUint64(p[0:], m.TimeUsec)
	le.PutUint32(p[8:], math.Float32bits(m.AngleX))
	le.PutUint32(p[12:], math.Float32bits(m.AngleY))
	le.PutUint32(p[16:], math.Float32bits(m.Distance))
	le.PutUint32(p[20:], math.Float32bits(m.SizeX))
	le.PutUint32(p[24:], math.Float32bits(m.SizeY))
	p[28] = m.TargetNum
	p[29] = m.Frame
	return p
}

// DecodeLandingTarget parses a LANDING_TARGET payload.
func DecodeLandingTarget(p []byte) (LandingTarget, error) {
	if len(p) < 30 {
		return LandingTarget{}, fmt.Errorf("landing_target payload too short: %d bytes", len(p))
	}
	return LandingTarget{
		TimeUsec:  le.Uint64(p[0:]),
		AngleX:    math.Float32frombits(le.Uint32(p[8:])),
		AngleY:    math.Float32frombits(le.Uint32(p[12:])),
		Distance:  math.Float32frombits(le.Uint32(p[16:])),
		SizeX:     math.Float32frombits(le.Uint32(p[20:])),
		SizeY:     math.Float32frombits(le.Uint32(p[24:])),
		TargetNum: p[28],
		Frame:     p[29],
	}, nil
}

// DistanceSensor (DISTANCE_SENSOR, id 132). Distances are centimeters.
type DistanceSensor struct {
	TimeBootMS      uint32
	MinDistance     uint16
	MaxDistance     uint16
	CurrentDistance uint16
	Type            uint8
	ID              uint8
	Orientation     uint8
	Covariance      uint8
}

func (DistanceSensor) MsgID() uint8 { return MsgIDDistanceSensor }

func (m DistanceSensor) MarshalPayload() []byte {
	p := make([]byte, 14)
	le.PutUint32(p[0:], m.TimeBootMS)
	le.PutUint16(p[4:], m.MinDistance)
	le.PutUint16(p[6:], m.MaxDistance)
	le.PutUint16(p[8:], m.CurrentDistance)
	p[10] = m.Type
	p[11] = m.ID
	p[12] = m.Orientation
	p[13] = m.Covariance
	return p
}

// DecodeDistanceSensor parses a DISTANCE_SENSOR payload.
func DecodeDistanceSensor(p []byte) (DistanceSensor, error) {
	if len(p) < 14 {
		return DistanceSensor{}, fmt.Errorf("distance_sensor payload too short: %d bytes", len(p))
	}
	return DistanceSensor{
		TimeBootMS:      le.Uint32(p[0:]),
		MinDistance:     le.Uint16(p[4:]),
		MaxDistance:     le.Uint16(p[6:]),
		CurrentDistance: le.Uint16(p[8:]),
		Type:            p[10],
		ID:              p[11],
		Orientation:     p[12],
		Covariance:      p[13],
	}, nil
}

// ParamRequestRead (PARAM_REQUEST_READ, id 20). ParamIndex -1 selects lookup
// by name.
type ParamRequestRead struct {
	ParamIndex      int16
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         string
}

func (ParamRequestRead) MsgID() uint8 { return MsgIDParamRequestRead }

func (m ParamRequestRead) MarshalPayload() []byte {
	p := make([]byte, 20)
	le.PutUint16(p[0:], uint16(m.ParamIndex))
	p[2] = m.TargetSystem
	p[3] = m.TargetComponent
	copy(p[4:20], paramID(m.ParamID))
	return p
}

// ParamSet (PARAM_SET, id 23).
type ParamSet struct {
	ParamValue      float32
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         string
	ParamType       uint8
}

func (ParamSet) MsgID() uint8 { return MsgIDParamSet }

func (m ParamSet) MarshalPayload() []byte {
	p := make([]byte, 23)
	le.PutUint32(p[0:], math.Float32bits(m.ParamValue))
	p[4] = m.TargetSystem
	p[5] = m.TargetComponent
	copy(p[6:22], paramID(m.ParamID))
	p[22] = m.ParamType
	return p
}

// ParamValue (PARAM_VALUE, id 22).
type ParamValue struct {
	ParamValue float32
	ParamCount uint16
	ParamIndex uint16
	ParamID    string
	ParamType  uint8
}

func (ParamValue) MsgID() uint8 { return MsgIDParamValue }

func (m ParamValue) MarshalPayload() []byte {
	p := make([]byte, 25)
	le.PutUint32(p[0:], math.Float32bits(m.ParamValue))
	le.PutUint16(p[4:], m.ParamCount)
	le.PutUint16(p[6:], m.ParamIndex)
	copy(p[8:24], paramID(m.ParamID))
	p[24] = m.ParamType
	return p
}

// DecodeParamValue parses a PARAM_VALUE payload.
func DecodeParamValue(p []byte) (ParamValue, error) {
	if len(p) < 25 {
		return ParamValue{}, fmt.Errorf("param_value payload too short: %d bytes", len(p))
	}
	return ParamValue{
		ParamValue: math.Float32frombits(le.Uint32(p[0:])),
		ParamCount: le.Uint16(p[4:]),
		ParamIndex: le.Uint16(p[6:]),
		ParamID:    paramIDString(p[8:24]),
		ParamType:  p[24],
	}, nil
}

// paramID renders a parameter name into the fixed 16-byte wire field,
// NUL-padded. Names at exactly 16 bytes carry no terminator on the wire.
func paramID(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}

// paramIDString trims the NUL padding off a wire parameter name.
func paramIDString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
