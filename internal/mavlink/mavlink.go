// Package mavlink implements a minimal MAVLink v1 codec covering the handful
// of messages the landing controller exchanges with an ArduPilot flight
// controller. It is not a dialect generator; each message is laid out by hand
// in the field order the common dialect wire format prescribes (fields sorted
// by size, declaration order within a size class).
package mavlink

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// Frame start marker for MAVLink v1.
const stx = 0xFE

// Maximum payload length on the wire.
const maxPayload = 255

// ErrBadChecksum is returned when a frame fails CRC validation.
var ErrBadChecksum = fmt.Errorf("mavlink: bad checksum")

// ErrUnknownMessage is returned when a frame carries a message ID this codec
// has no CRC_EXTRA for. Such frames cannot be validated and are skipped.
var ErrUnknownMessage = fmt.Errorf("mavlink: unknown message id")

// Message is a payload that can be placed on the wire.
type Message interface {
	// MsgID returns the MAVLink message ID.
	MsgID() uint8
	// MarshalPayload renders the fixed-length wire payload.
	MarshalPayload() []byte
}

// crcExtras maps message IDs to the dialect CRC_EXTRA seed byte. Only the
// messages this controller speaks are present; anything else on the link is
// skipped undecoded.
var crcExtras = map[uint8]uint8{
	MsgIDHeartbeat:        50,
	MsgIDParamRequestRead: 214,
	MsgIDParamValue:       220,
	MsgIDParamSet:         168,
	MsgIDRCChannels:       118,
	MsgIDTimesync:         34,
	MsgIDDistanceSensor:   85,
	MsgIDLandingTarget:    200,
}

// x25 implements the MAVLink CRC-16/X.25 accumulator.
type x25 uint16

func newX25() x25 { return 0xFFFF }

func (c *x25) accumulate(b byte) {
	tmp := b ^ byte(*c&0xFF)
	tmp ^= tmp << 4
	*c = (*c >> 8) ^ (x25(tmp) << 8) ^ (x25(tmp) << 3) ^ (x25(tmp) >> 4)
}

func (c *x25) accumulateBytes(data []byte) {
	for _, b := range data {
		c.accumulate(b)
	}
}

// Frame is one decoded MAVLink v1 frame.
type Frame struct {
	Seq      uint8
	SystemID uint8
	CompID   uint8
	MsgID    uint8
	Payload  []byte
}

// Encoder writes frames to an underlying stream with a monotonically
// incrementing sequence number. It is safe for concurrent use.
type Encoder struct {
	mu       sync.Mutex
	w        io.Writer
	seq      uint8
	systemID uint8
	compID   uint8
}

// NewEncoder creates an Encoder stamping frames with the given source system
// and component IDs.
func NewEncoder(w io.Writer, systemID, compID uint8) *Encoder {
	return &Encoder{w: w, systemID: systemID, compID: compID}
}

// Encode frames and writes a single message.
func (e *Encoder) Encode(m Message) error {
	extra, ok := crcExtras[m.MsgID()]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMessage, m.MsgID())
	}

	payload := m.MarshalPayload()
	if len(payload) > maxPayload {
		return fmt.Errorf("mavlink: payload too long: %d bytes", len(payload))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	header := []byte{byte(len(payload)), e.seq, e.systemID, e.compID, m.MsgID()}
	e.seq++

	crc := newX25()
	crc.accumulateBytes(header)
	crc.accumulateBytes(payload)
	crc.accumulate(extra)

	buf := make([]byte, 0, 8+len(payload))
	buf = append(buf, stx)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, byte(crc&0xFF), byte(crc>>8))

	n, err := e.w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// Decoder reads frames from a byte stream, resynchronizing on the start
// marker after garbage or partial frames.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder creates a Decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 512)}
}

// Next returns the next validated frame. Frames with unknown message IDs or
// failed checksums are skipped with their corresponding error returned, so
// callers can count link noise; io errors terminate the stream.
func (d *Decoder) Next() (Frame, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != stx {
			continue
		}

		header := make([]byte, 5)
		if _, err := io.ReadFull(d.r, header); err != nil {
			return Frame{}, err
		}
		payloadLen := int(header[0])

		body := make([]byte, payloadLen+2)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return Frame{}, err
		}
		payload := body[:payloadLen]
		wireCRC := uint16(body[payloadLen]) | uint16(body[payloadLen+1])<<8

		msgID := header[4]
		extra, ok := crcExtras[msgID]
		if !ok {
			return Frame{MsgID: msgID}, ErrUnknownMessage
		}

		crc := newX25()
		crc.accumulateBytes(header)
		crc.accumulateBytes(payload)
		crc.accumulate(extra)
		if uint16(crc) != wireCRC {
			return Frame{MsgID: msgID}, ErrBadChecksum
		}

		return Frame{
			Seq:      header[1],
			SystemID: header[2],
			CompID:   header[3],
			MsgID:    msgID,
			Payload:  payload,
		}, nil
	}
}
