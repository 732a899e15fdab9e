package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/talon-uas/precland/internal/clocksync"
	"github.com/talon-uas/precland/internal/control"
	"github.com/talon-uas/precland/internal/fclink"
	"github.com/talon-uas/precland/internal/telemetry"
)

// runDebugServer serves the bench-network debug surface until the context is
// cancelled: live SQL over the flight log, a JSON status endpoint, and an SSE
// tail of the tracker line stream.
func runDebugServer(ctx context.Context, addr string, store *telemetry.Store, loop *control.Loop, link fclink.Link) {
	mux := http.NewServeMux()
	if store != nil {
		store.AttachAdminRoutes(mux)
	}

	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("tail", tailHandler(loop))

	mux.HandleFunc("/api/status", statusHandler(loop, link))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("debug server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
	}
}

// tailHandler streams tracker lines as Server-Sent Events for the live bench
// monitor.
func tailHandler(loop *control.Loop) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		id, lines := loop.Subscribe()
		defer loop.Unsubscribe(id)

		// Initial ping establishes the stream before any line arrives.
		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	}
}

type statusPayload struct {
	TrackerState string              `json:"tracker_state"`
	Restarts     int                 `json:"restarts"`
	DroppedLines int64               `json:"dropped_lines"`
	Sync         clocksync.Snapshot  `json:"sync"`
	Vehicle      fclink.VehicleState `json:"vehicle"`
}

func statusHandler(loop *control.Loop, link fclink.Link) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		payload := statusPayload{
			Sync:    loop.Synchronizer().Stats(),
			Vehicle: link.State(),
		}
		if sup := loop.Supervisor(); sup != nil {
			payload.TrackerState = sup.State().String()
			payload.DroppedLines = sup.DroppedLines()
		}
		payload.Restarts = loop.Restarts()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("status encode failed: %v", err)
		}
	}
}
