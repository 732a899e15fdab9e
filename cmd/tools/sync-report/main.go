// sync-report renders an offline HTML report of clock-sync behaviour for one
// controller session: estimated offset, drift, and jitter over time.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/talon-uas/precland/internal/telemetry"
)

var (
	dbPath  = flag.String("db", "flightlog.db", "Flight log database path")
	session = flag.String("session", "", "Session ID (default: most recent)")
	outPath = flag.String("out", "sync-report.html", "Output HTML file")
)

func main() {
	flag.Parse()

	store, err := telemetry.OpenReadOnly(*dbPath)
	if err != nil {
		log.Fatalf("failed to open flight log: %v", err)
	}
	defer store.Close()

	sessionID := *session
	if sessionID == "" {
		sessions, err := store.Sessions()
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		if len(sessions) == 0 {
			log.Fatal("flight log has no sessions")
		}
		sessionID = sessions[0]
	}

	samples, err := store.SyncSamples(sessionID)
	if err != nil {
		log.Fatalf("failed to read sync samples: %v", err)
	}
	if len(samples) == 0 {
		log.Fatalf("session %s has no sync samples", sessionID)
	}

	times := make([]string, len(samples))
	offsets := make([]opts.LineData, len(samples))
	drifts := make([]opts.LineData, len(samples))
	jitters := make([]opts.LineData, len(samples))
	for i, s := range samples {
		times[i] = s.At.Format("15:04:05")
		offsets[i] = opts.LineData{Value: s.OffsetNS / 1e6}
		drifts[i] = opts.LineData{Value: s.DriftNS / 1e6}
		jitters[i] = opts.LineData{Value: s.JitterNS / 1e6}
	}

	offsetLine := charts.NewLine()
	offsetLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Clock offset and drift",
			Subtitle: fmt.Sprintf("session %s (milliseconds)", sessionID),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	offsetLine.SetXAxis(times).
		AddSeries("offset (ms)", offsets).
		AddSeries("drift (ms)", drifts)

	jitterLine := charts.NewLine()
	jitterLine.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Convergence jitter (ms)"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	jitterLine.SetXAxis(times).AddSeries("jitter (ms)", jitters)

	page := components.NewPage()
	page.AddCharts(offsetLine, jitterLine)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d samples)", *outPath, len(samples))
}
