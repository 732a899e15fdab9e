// Package config loads the landing controller configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the root configuration for the landing controller. All fields are
// optional pointers so that a partial JSON file overrides only what it names;
// the Get* accessors supply defaults for the rest. The schema doubles as the
// runtime-status payload served by the debug endpoint.
type Config struct {
	// Vision process params
	TrackerPath  *string  `json:"tracker_path,omitempty"`
	VideoSource  *string  `json:"video_source,omitempty"`
	Width        *int     `json:"width,omitempty"`
	Height       *int     `json:"height,omitempty"`
	MarkerDict   *string  `json:"marker_dict,omitempty"`
	MarkerSizeCM *float64 `json:"marker_size_cm,omitempty"`

	// Arbitration params
	ModeGating       *bool    `json:"mode_gating,omitempty"`
	LandModes        []string `json:"land_modes,omitempty"`
	LoiterModes      []string `json:"loiter_modes,omitempty"`
	PrecisionChannel *int     `json:"precision_channel,omitempty"`
	ChannelThreshold *int     `json:"channel_threshold,omitempty"`

	// Rangefinder emulation params
	FakeRangefinder  *bool `json:"fake_rangefinder,omitempty"`
	RangefinderMinCM *int  `json:"rangefinder_min_cm,omitempty"`
	RangefinderMaxCM *int  `json:"rangefinder_max_cm,omitempty"`

	// Lifecycle params
	RestartLimit   *int  `json:"restart_limit,omitempty"` // 0 = unlimited
	DisarmShutdown *bool `json:"disarm_shutdown,omitempty"`
	Simulator      *bool `json:"simulator,omitempty"`
	Verbose        *bool `json:"verbose,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. Fields omitted from the file retain
// their defaults, so partial configs are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.TrackerPath != nil && *c.TrackerPath == "" {
		return fmt.Errorf("tracker_path must not be empty when set")
	}
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", *c.Height)
	}
	if c.MarkerSizeCM != nil && *c.MarkerSizeCM <= 0 {
		return fmt.Errorf("marker_size_cm must be positive, got %f", *c.MarkerSizeCM)
	}
	if c.PrecisionChannel != nil {
		if *c.PrecisionChannel < 1 || *c.PrecisionChannel > 18 {
			return fmt.Errorf("precision_channel must be between 1 and 18, got %d", *c.PrecisionChannel)
		}
	}
	if c.ChannelThreshold != nil {
		if *c.ChannelThreshold < 800 || *c.ChannelThreshold > 2200 {
			return fmt.Errorf("channel_threshold must be a PWM value between 800 and 2200, got %d", *c.ChannelThreshold)
		}
	}
	if c.RestartLimit != nil && *c.RestartLimit < 0 {
		return fmt.Errorf("restart_limit must be non-negative, got %d", *c.RestartLimit)
	}
	if c.RangefinderMinCM != nil && c.RangefinderMaxCM != nil {
		if *c.RangefinderMinCM >= *c.RangefinderMaxCM {
			return fmt.Errorf("rangefinder_min_cm (%d) must be below rangefinder_max_cm (%d)",
				*c.RangefinderMinCM, *c.RangefinderMaxCM)
		}
	}
	return nil
}

// GetTrackerPath returns the vision tracker executable path or the default.
func (c *Config) GetTrackerPath() string {
	if c.TrackerPath == nil {
		return "track_targets"
	}
	return *c.TrackerPath
}

// GetVideoSource returns the detection source or the default.
func (c *Config) GetVideoSource() string {
	if c.VideoSource == nil {
		return "/dev/video0"
	}
	return *c.VideoSource
}

// GetWidth returns the capture width or the default.
func (c *Config) GetWidth() int {
	if c.Width == nil {
		return 640
	}
	return *c.Width
}

// GetHeight returns the capture height or the default.
func (c *Config) GetHeight() int {
	if c.Height == nil {
		return 480
	}
	return *c.Height
}

// GetMarkerDict returns the ArUco dictionary name or the default.
func (c *Config) GetMarkerDict() string {
	if c.MarkerDict == nil {
		return "ARUCO_MIP_36h12"
	}
	return *c.MarkerDict
}

// GetMarkerSizeCM returns the marker edge length in centimeters or the default.
func (c *Config) GetMarkerSizeCM() float64 {
	if c.MarkerSizeCM == nil {
		return 20.0
	}
	return *c.MarkerSizeCM
}

// GetModeGating returns whether tracking is gated on vehicle mode.
func (c *Config) GetModeGating() bool {
	if c.ModeGating == nil {
		return true
	}
	return *c.ModeGating
}

// GetLandModes returns the flight modes that enable tracking outright.
func (c *Config) GetLandModes() []string {
	if len(c.LandModes) == 0 {
		return []string{"LAND", "RTL"}
	}
	return c.LandModes
}

// GetLoiterModes returns the modes that enable tracking when the precision
// channel is high.
func (c *Config) GetLoiterModes() []string {
	if len(c.LoiterModes) == 0 {
		return []string{"LOITER", "POSHOLD"}
	}
	return c.LoiterModes
}

// GetPrecisionChannel returns the precision-loiter RC channel or the default.
func (c *Config) GetPrecisionChannel() int {
	if c.PrecisionChannel == nil {
		return 7
	}
	return *c.PrecisionChannel
}

// GetChannelThreshold returns the PWM value above which the precision channel
// counts as active.
func (c *Config) GetChannelThreshold() int {
	if c.ChannelThreshold == nil {
		return 1800
	}
	return *c.ChannelThreshold
}

// GetFakeRangefinder returns whether synthetic distance messages are sent.
func (c *Config) GetFakeRangefinder() bool {
	if c.FakeRangefinder == nil {
		return false
	}
	return *c.FakeRangefinder
}

// GetRangefinderMinCM returns the emulated rangefinder minimum in centimeters.
func (c *Config) GetRangefinderMinCM() int {
	if c.RangefinderMinCM == nil {
		return 10
	}
	return *c.RangefinderMinCM
}

// GetRangefinderMaxCM returns the emulated rangefinder maximum in centimeters.
func (c *Config) GetRangefinderMaxCM() int {
	if c.RangefinderMaxCM == nil {
		return 4000
	}
	return *c.RangefinderMaxCM
}

// GetRestartLimit returns the crash-relaunch cap. Zero means unlimited.
func (c *Config) GetRestartLimit() int {
	if c.RestartLimit == nil {
		return 0
	}
	return *c.RestartLimit
}

// GetDisarmShutdown returns whether a disarm outside of shutdown terminates
// the tracker. Used by bench and SITL test runs.
func (c *Config) GetDisarmShutdown() bool {
	if c.DisarmShutdown == nil {
		return false
	}
	return *c.DisarmShutdown
}

// GetSimulator returns whether the controller targets SITL.
func (c *Config) GetSimulator() bool {
	if c.Simulator == nil {
		return false
	}
	return *c.Simulator
}

// GetVerbose returns whether debug records from the tracker are logged.
func (c *Config) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}

// TrackerArgs builds the argument list handed to the vision tracker process.
func (c *Config) TrackerArgs() []string {
	args := []string{
		"--input", c.GetVideoSource(),
		"--width", fmt.Sprintf("%d", c.GetWidth()),
		"--height", fmt.Sprintf("%d", c.GetHeight()),
		"--dict", c.GetMarkerDict(),
		"--size", fmt.Sprintf("%.1f", c.GetMarkerSizeCM()),
	}
	if c.GetVerbose() {
		args = append(args, "--verbose")
	}
	if c.GetSimulator() {
		args = append(args, "--sim")
	}
	return args
}
