package mavlink

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, 1, 191)

	in := Timesync{TC1: 0, TS1: 1234567890123456789}
	if err := enc.Encode(in); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	dec := NewDecoder(&buf)
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.SystemID != 1 || frame.CompID != 191 || frame.MsgID != MsgIDTimesync {
		t.Fatalf("frame header = %+v", frame)
	}
	out, err := DecodeTimesync(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeTimesync failed: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestSequenceIncrements(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, 1, 191)
	for i := 0; i < 3; i++ {
		if err := enc.Encode(Heartbeat{Type: TypeOnboardController}); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for want := uint8(0); want < 3; want++ {
		frame, err := dec.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if frame.Seq != want {
			t.Fatalf("seq = %d, want %d", frame.Seq, want)
		}
	}
}

func TestDecoderResyncsAfterGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x42, 0xFF, 0x13})

	enc := NewEncoder(&buf, 1, 1)
	if err := enc.Encode(Heartbeat{CustomMode: 9, BaseMode: ModeFlagSafetyArmed}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	dec := NewDecoder(&buf)
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	hb, err := DecodeHeartbeat(frame.Payload)
	if err != nil {
		t.Fatalf("DecodeHeartbeat failed: %v", err)
	}
	if hb.CustomMode != 9 || !hb.Armed() {
		t.Fatalf("heartbeat = %+v", hb)
	}
}

func TestDecoderRejectsBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, 1, 1)
	if err := enc.Encode(Heartbeat{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xFF // corrupt the CRC high byte

	dec := NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Next(); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("Next error = %v, want ErrBadChecksum", err)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Fatalf("Next after skip = %v, want EOF", err)
	}
}

func TestDecoderSkipsUnknownMessage(t *testing.T) {
	// Hand-built frame with message id 77, which this codec does not speak.
	raw := []byte{stx, 1, 0, 1, 1, 77, 0xAB, 0x00, 0x00}

	var buf bytes.Buffer
	buf.Write(raw)
	enc := NewEncoder(&buf, 1, 1)
	if err := enc.Encode(Heartbeat{}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	dec := NewDecoder(&buf)
	frame, err := dec.Next()
	if !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Next error = %v, want ErrUnknownMessage", err)
	}
	if frame.MsgID != 77 {
		t.Fatalf("skipped msg id = %d, want 77", frame.MsgID)
	}
	if frame, err = dec.Next(); err != nil || frame.MsgID != MsgIDHeartbeat {
		t.Fatalf("frame after skip = %+v, %v", frame, err)
	}
}

func TestLandingTargetRoundTrip(t *testing.T) {
	in := LandingTarget{
		TimeUsec: 1756200000000000,
		AngleX:   0.01,
		AngleY:   -0.02,
		Distance: 1.5,
		Frame:    FrameBodyNED,
	}
	out, err := DecodeLandingTarget(in.MarshalPayload())
	if err != nil {
		t.Fatalf("DecodeLandingTarget failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("landing target mismatch (-want +got):\n%s", diff)
	}
}

func TestRCChannelsRoundTrip(t *testing.T) {
	in := RCChannels{TimeBootMS: 120000, ChanCount: 16, RSSI: 254}
	in.Channels[6] = 1900 // channel 7, 1-based
	out, err := DecodeRCChannels(in.MarshalPayload())
	if err != nil {
		t.Fatalf("DecodeRCChannels failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("rc_channels mismatch (-want +got):\n%s", diff)
	}
}

func TestParamValueRoundTrip(t *testing.T) {
	in := ParamValue{
		ParamValue: 1,
		ParamCount: 900,
		ParamIndex: 42,
		ParamID:    "PLND_ENABLED",
		ParamType:  ParamTypeReal32,
	}
	out, err := DecodeParamValue(in.MarshalPayload())
	if err != nil {
		t.Fatalf("DecodeParamValue failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("param_value mismatch (-want +got):\n%s", diff)
	}
}

func TestParamIDPadding(t *testing.T) {
	id := paramID("RNGFND1_TYPE")
	if len(id) != 16 {
		t.Fatalf("paramID length = %d, want 16", len(id))
	}
	if got := paramIDString(id); got != "RNGFND1_TYPE" {
		t.Fatalf("paramIDString = %q", got)
	}

	// A 16-char name fills the field with no terminator.
	full := paramID("ABCDEFGHIJKLMNOP")
	if got := paramIDString(full); got != "ABCDEFGHIJKLMNOP" {
		t.Fatalf("paramIDString(full) = %q", got)
	}
}
