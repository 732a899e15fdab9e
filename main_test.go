package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/talon-uas/precland/internal/config"
	"github.com/talon-uas/precland/internal/control"
	"github.com/talon-uas/precland/internal/fclink"
	"github.com/talon-uas/precland/internal/timeutil"
)

func newStatusLoop() (*control.Loop, *fclink.MockLink) {
	link := fclink.NewMockLink()
	link.SetState(fclink.VehicleState{Armed: true, Mode: "LOITER", ChanCount: 16})
	loop := control.New(config.Empty(), link, timeutil.NewMockClock(time.Unix(1000, 0)), nil)
	return loop, link
}

func TestStatusHandler(t *testing.T) {
	loop, link := newStatusLoop()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	statusHandler(loop, link)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload statusPayload
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding status payload: %v", err)
	}
	if payload.Vehicle.Mode != "LOITER" || !payload.Vehicle.Armed {
		t.Fatalf("vehicle = %+v", payload.Vehicle)
	}
	if payload.TrackerState != "" {
		t.Fatalf("tracker state = %q before launch, want empty", payload.TrackerState)
	}
	if payload.Sync.Converged {
		t.Fatal("sync reported converged before any exchange")
	}
}

func TestStatusHandlerRejectsNonGET(t *testing.T) {
	loop, link := newStatusLoop()

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	statusHandler(loop, link)(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestTailHandlerStreamsSSE(t *testing.T) {
	loop, _ := newStatusLoop()

	srv := httptest.NewServer(tailHandler(loop))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if !strings.HasPrefix(line, ": ping") {
		t.Fatalf("first event = %q, want ping comment", line)
	}
}

func TestTailHandlerRejectsNonGET(t *testing.T) {
	loop, _ := newStatusLoop()

	req := httptest.NewRequest(http.MethodPost, "/debug/tail", nil)
	rec := httptest.NewRecorder()
	tailHandler(loop)(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
