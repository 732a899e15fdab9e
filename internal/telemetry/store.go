// Package telemetry records flight-log data for each controller session:
// clock-sync estimates and forwarded target detections. The log backs the
// offline sync-report tool and the live debug endpoints.
package telemetry

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/talon-uas/precland/internal/clocksync"
	"github.com/talon-uas/precland/internal/monitoring"
	"github.com/talon-uas/precland/internal/vision"
)

// Store is the sqlite-backed flight log. One Store spans one controller
// session.
type Store struct {
	db        *sql.DB
	SessionID string
}

// Open opens (or creates) the flight log at path, migrates the schema, and
// registers a new session.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %q: %w", path, err)
	}
	// A single writer with WAL keeps recorder inserts off the loop's back.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry: pragmas: %w", err)
	}

	s := &Store{db: db, SessionID: uuid.New().String()}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(
		"INSERT INTO sessions (session_id, started_at) VALUES (?, ?)",
		s.SessionID, time.Now().UTC(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry: register session: %w", err)
	}
	return s, nil
}

// OpenReadOnly opens an existing flight log for reporting without
// registering a new session.
func OpenReadOnly(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for the report tool and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// RecordSyncSample logs one clock-sync estimator snapshot. Recording failures
// never disturb the control loop; they are logged and dropped.
func (s *Store) RecordSyncSample(at time.Time, snap clocksync.Snapshot) {
	_, err := s.db.Exec(`
		INSERT INTO sync_samples (session_id, at, converged, samples, offset_ns, drift_ns, jitter_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, at.UTC(), snap.Converged, snap.Samples, snap.OffsetNS, snap.DriftNS, snap.JitterNS,
	)
	if err != nil {
		monitoring.Logf("telemetry: sync sample insert failed: %v", err)
	}
}

// RecordTarget logs one forwarded detection.
func (s *Store) RecordTarget(at time.Time, timeUsec int64, obs vision.TargetObservation) {
	_, err := s.db.Exec(`
		INSERT INTO targets (session_id, at, capture_time_usec, marker_id, x_offset_rad, y_offset_rad, distance_m)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, at.UTC(), timeUsec, obs.MarkerID, obs.XOffsetRad, obs.YOffsetRad, obs.DistanceMeters,
	)
	if err != nil {
		monitoring.Logf("telemetry: target insert failed: %v", err)
	}
}

// SyncSample is one row of the sync_samples table, read back for reporting.
type SyncSample struct {
	At       time.Time
	Samples  int
	OffsetNS float64
	DriftNS  float64
	JitterNS float64
}

// SyncSamples returns the sync history for a session in insertion order.
func (s *Store) SyncSamples(sessionID string) ([]SyncSample, error) {
	rows, err := s.db.Query(`
		SELECT at, samples, offset_ns, drift_ns, jitter_ns
		FROM sync_samples WHERE session_id = ? ORDER BY at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncSample
	for rows.Next() {
		var smp SyncSample
		if err := rows.Scan(&smp.At, &smp.Samples, &smp.OffsetNS, &smp.DriftNS, &smp.JitterNS); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Sessions lists known session IDs, newest first.
func (s *Store) Sessions() ([]string, error) {
	rows, err := s.db.Query("SELECT session_id FROM sessions ORDER BY started_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts live SQL debugging over the flight log on the
// given mux under /debug/. These routes are for the bench network only.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("telemetry: tailsql unavailable: %v", err)
		return
	}
	tsql.SetDB("sqlite://flightlog.db", s.db, &tailsql.DBOptions{
		Label: "Flight log",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
}
