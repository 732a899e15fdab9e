package vision

import (
	"fmt"
	"strconv"
	"strings"
)

// RecordKind classifies one line of the tracker's event stream.
type RecordKind int

const (
	KindUnknown RecordKind = iota
	KindTarget
	KindInfo
	KindDebug
	KindError
)

// TargetObservation is one parsed marker detection. Offsets are radians off
// the camera bore axis; distance is meters.
type TargetObservation struct {
	MarkerID       int
	XOffsetRad     float64
	YOffsetRad     float64
	DistanceMeters float64
}

// Record is one parsed line of the tracker's event stream.
type Record struct {
	Kind    RecordKind
	Payload string
	Target  *TargetObservation
}

// ParseRecord parses a colon-delimited tracker line. Target records look like
// "target:<id>:<x>:<y>:<z>"; everything else carries a free-form payload.
func ParseRecord(line string) (Record, error) {
	kind, payload, _ := strings.Cut(line, ":")

	switch kind {
	case "target":
		obs, err := parseTarget(payload)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTarget, Payload: payload, Target: obs}, nil
	case "info":
		return Record{Kind: KindInfo, Payload: payload}, nil
	case "debug":
		return Record{Kind: KindDebug, Payload: payload}, nil
	case "error":
		return Record{Kind: KindError, Payload: payload}, nil
	default:
		return Record{Kind: KindUnknown, Payload: line}, nil
	}
}

func parseTarget(payload string) (*TargetObservation, error) {
	fields := strings.Split(payload, ":")
	if len(fields) != 4 {
		return nil, fmt.Errorf("vision: target record has %d fields, want 4: %q", len(fields), payload)
	}

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("vision: bad marker id %q: %w", fields[0], err)
	}

	vals := make([]float64, 3)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("vision: bad target field %q: %w", f, err)
		}
		vals[i] = v
	}

	return &TargetObservation{
		MarkerID:       id,
		XOffsetRad:     vals[0],
		YOffsetRad:     vals[1],
		DistanceMeters: vals[2],
	}, nil
}
