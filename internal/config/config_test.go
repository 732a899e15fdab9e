package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"tracker_path": "/opt/precland/track_targets",
		"fake_rangefinder": true,
		"channel_threshold": 1700
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Named fields override.
	assert.Equal(t, "/opt/precland/track_targets", cfg.GetTrackerPath())
	assert.True(t, cfg.GetFakeRangefinder())
	assert.Equal(t, 1700, cfg.GetChannelThreshold())

	// Everything else keeps its default.
	assert.Equal(t, "/dev/video0", cfg.GetVideoSource())
	assert.Equal(t, 640, cfg.GetWidth())
	assert.Equal(t, 480, cfg.GetHeight())
	assert.Equal(t, 7, cfg.GetPrecisionChannel())
	assert.True(t, cfg.GetModeGating())
	assert.Equal(t, 0, cfg.GetRestartLimit())
}

func TestDefaults(t *testing.T) {
	cfg := Empty()
	assert.Equal(t, "track_targets", cfg.GetTrackerPath())
	assert.Equal(t, "ARUCO_MIP_36h12", cfg.GetMarkerDict())
	assert.Equal(t, 20.0, cfg.GetMarkerSizeCM())
	assert.Equal(t, []string{"LAND", "RTL"}, cfg.GetLandModes())
	assert.Equal(t, []string{"LOITER", "POSHOLD"}, cfg.GetLoiterModes())
	assert.Equal(t, 1800, cfg.GetChannelThreshold())
	assert.Equal(t, 10, cfg.GetRangefinderMinCM())
	assert.Equal(t, 4000, cfg.GetRangefinderMaxCM())
	assert.False(t, cfg.GetFakeRangefinder())
	assert.False(t, cfg.GetDisarmShutdown())
	assert.False(t, cfg.GetSimulator())
	assert.False(t, cfg.GetVerbose())
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := writeConfig(t, "config.yaml", `{}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"width": `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	intp := func(v int) *int { return &v }
	strp := func(v string) *string { return &v }
	f64p := func(v float64) *float64 { return &v }

	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty is valid", Config{}, true},
		{"empty tracker path", Config{TrackerPath: strp("")}, false},
		{"zero width", Config{Width: intp(0)}, false},
		{"negative height", Config{Height: intp(-1)}, false},
		{"zero marker size", Config{MarkerSizeCM: f64p(0)}, false},
		{"channel below range", Config{PrecisionChannel: intp(0)}, false},
		{"channel above range", Config{PrecisionChannel: intp(19)}, false},
		{"channel in range", Config{PrecisionChannel: intp(18)}, true},
		{"threshold below pwm range", Config{ChannelThreshold: intp(700)}, false},
		{"threshold above pwm range", Config{ChannelThreshold: intp(2300)}, false},
		{"negative restart limit", Config{RestartLimit: intp(-1)}, false},
		{"inverted rangefinder bounds", Config{RangefinderMinCM: intp(500), RangefinderMaxCM: intp(100)}, false},
		{"sane rangefinder bounds", Config{RangefinderMinCM: intp(10), RangefinderMaxCM: intp(400)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestTrackerArgs(t *testing.T) {
	cfg := Empty()
	want := []string{
		"--input", "/dev/video0",
		"--width", "640",
		"--height", "480",
		"--dict", "ARUCO_MIP_36h12",
		"--size", "20.0",
	}
	if diff := cmp.Diff(want, cfg.TrackerArgs()); diff != "" {
		t.Errorf("TrackerArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestTrackerArgsWithFlags(t *testing.T) {
	verbose, sim := true, true
	cfg := &Config{Verbose: &verbose, Simulator: &sim}
	args := cfg.TrackerArgs()
	assert.Contains(t, args, "--verbose")
	assert.Contains(t, args, "--sim")
}
