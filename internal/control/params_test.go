package control

import (
	"context"
	"errors"
	"testing"

	"github.com/talon-uas/precland/internal/config"
	"github.com/talon-uas/precland/internal/fclink"
)

func TestEnsureLandingParamsWritesOnlyDifferences(t *testing.T) {
	link := fclink.NewMockLink()
	link.SetParam(paramLandEnabled, 0) // wrong, needs a write
	link.SetParam(paramLandType, landTypeCompanion)

	if err := EnsureLandingParams(context.Background(), link, &config.Config{}); err != nil {
		t.Fatalf("EnsureLandingParams failed: %v", err)
	}

	params := link.Params()
	if params[paramLandEnabled] != 1 {
		t.Fatalf("%s = %v, want 1", paramLandEnabled, params[paramLandEnabled])
	}
	if params[paramLandType] != landTypeCompanion {
		t.Fatalf("%s = %v, want %d", paramLandType, params[paramLandType], landTypeCompanion)
	}
	// Rangefinder emulation is off, so its params are never touched.
	if _, ok := params[paramRngType]; ok {
		t.Fatalf("%s written without rangefinder emulation", paramRngType)
	}
}

func TestEnsureLandingParamsConfiguresRangefinder(t *testing.T) {
	link := fclink.NewMockLink()
	link.SetParam(paramLandEnabled, 1)
	link.SetParam(paramLandType, landTypeCompanion)
	link.SetParam(paramRngType, 0)
	link.SetParam(paramRngMinCM, 0)
	link.SetParam(paramRngMaxCM, 0)

	cfg := &config.Config{
		FakeRangefinder:  ptr(true),
		RangefinderMinCM: ptr(20),
		RangefinderMaxCM: ptr(500),
	}
	if err := EnsureLandingParams(context.Background(), link, cfg); err != nil {
		t.Fatalf("EnsureLandingParams failed: %v", err)
	}

	params := link.Params()
	if params[paramRngType] != rngTypeMAVLink {
		t.Fatalf("%s = %v, want %d", paramRngType, params[paramRngType], rngTypeMAVLink)
	}
	if params[paramRngMinCM] != 20 || params[paramRngMaxCM] != 500 {
		t.Fatalf("rangefinder bounds = [%v, %v], want [20, 500]",
			params[paramRngMinCM], params[paramRngMaxCM])
	}
}

func TestEnsureLandingParamsReadFailureIsFatal(t *testing.T) {
	link := fclink.NewMockLink() // no params seeded: every read times out

	err := EnsureLandingParams(context.Background(), link, &config.Config{})
	if !errors.Is(err, fclink.ErrParamTimeout) {
		t.Fatalf("error = %v, want ErrParamTimeout", err)
	}
}
