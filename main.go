package main

import (
	"context"
	"flag"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/talon-uas/precland/internal/config"
	"github.com/talon-uas/precland/internal/control"
	"github.com/talon-uas/precland/internal/fclink"
	"github.com/talon-uas/precland/internal/monitoring"
	"github.com/talon-uas/precland/internal/telemetry"
	"github.com/talon-uas/precland/internal/timeutil"
)

var (
	connect    = flag.String("connect", "/dev/ttyACM0", "Flight controller target: serial device, tcp:host:port, or udp:host:port")
	baud       = flag.Int("baud", 921600, "Serial baud rate (ignored for network targets)")
	configPath = flag.String("config", "", "Path to JSON config file")
	dbPath     = flag.String("db", "flightlog.db", "Flight log database path (empty to disable)")
	listen     = flag.String("listen", "", "Debug HTTP listen address (empty to disable)")
	verbose    = flag.Bool("verbose", false, "Log tracker debug records")
)

// heartbeatInterval is the cadence at which we announce ourselves on the link.
const heartbeatInterval = 1 * time.Second

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	monitoring.SetVerbose(*verbose || cfg.GetVerbose())

	link, err := fclink.Connect(*connect, fclink.PortOptions{BaudRate: *baud})
	if err != nil {
		log.Fatalf("failed to connect to flight controller: %v", err)
	}
	defer link.Close()

	var store *telemetry.Store
	if *dbPath != "" {
		store, err = telemetry.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open flight log: %v", err)
		}
		defer store.Close()
		log.Printf("flight log session %s", store.SessionID)
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// run the monitor routine to manage inbound traffic on the link
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("link monitor stopped: %v", err)
		}
	}()

	// announce this companion computer so the autopilot routes to us
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := link.SendHeartbeat(); err != nil {
					log.Printf("heartbeat send failed: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := control.EnsureLandingParams(ctx, link, cfg); err != nil {
		log.Fatalf("failed to configure landing parameters: %v", err)
	}

	var recorder control.Recorder
	if store != nil {
		recorder = store
	}
	loop := control.New(cfg, link, timeutil.RealClock{}, recorder)

	coordinator := control.NewShutdownCoordinator(loop.RequestShutdown)
	coordinator.Listen()
	defer coordinator.Stop()

	// optional debug HTTP server: tailsql over the flight log plus a status
	// endpoint for the bench
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDebugServer(ctx, *listen, store, loop, link)
		}()
	}

	code, err := loop.Run(ctx)
	cancel()
	link.Close()
	wg.Wait()

	if err != nil {
		log.Fatalf("control loop failed: %v", err)
	}
	log.Printf("tracker exited with code %d, shutdown complete", code)
}
