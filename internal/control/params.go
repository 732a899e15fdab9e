package control

import (
	"context"
	"fmt"
	"time"

	"github.com/talon-uas/precland/internal/config"
	"github.com/talon-uas/precland/internal/fclink"
	"github.com/talon-uas/precland/internal/monitoring"
)

// paramSetupTimeout bounds the whole parameter handshake at startup.
const paramSetupTimeout = 30 * time.Second

// ArduPilot precision-landing parameters.
const (
	paramLandEnabled = "PLND_ENABLED"
	paramLandType    = "PLND_TYPE"
	paramRngType     = "RNGFND1_TYPE"
	paramRngMinCM    = "RNGFND1_MIN_CM"
	paramRngMaxCM    = "RNGFND1_MAX_CM"

	// PLND_TYPE value for companion-computer detections.
	landTypeCompanion = 1
	// RNGFND1_TYPE value for a MAVLink-fed rangefinder.
	rngTypeMAVLink = 10
)

// EnsureLandingParams verifies the flight controller's precision-landing
// configuration and writes any parameter that differs, including the
// rangefinder emulation set when enabled. Failures here are configuration
// errors and fatal at startup.
func EnsureLandingParams(ctx context.Context, link fclink.Link, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, paramSetupTimeout)
	defer cancel()

	want := map[string]float32{
		paramLandEnabled: 1,
		paramLandType:    landTypeCompanion,
	}
	if cfg.GetFakeRangefinder() {
		want[paramRngType] = rngTypeMAVLink
		want[paramRngMinCM] = float32(cfg.GetRangefinderMinCM())
		want[paramRngMaxCM] = float32(cfg.GetRangefinderMaxCM())
	}

	for name, value := range want {
		current, err := link.ReadParam(ctx, name)
		if err != nil {
			return fmt.Errorf("control: reading %s: %w", name, err)
		}
		if current == value {
			continue
		}
		monitoring.Logf("control: setting %s=%v (was %v)", name, value, current)
		if err := link.WriteParam(ctx, name, value); err != nil {
			return fmt.Errorf("control: writing %s: %w", name, err)
		}
	}
	return nil
}
