package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"rtpstream-analyzer/internal/stats"
)

const schema = `
CREATE TABLE IF NOT EXISTS scans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    capture TEXT NOT NULL,
    filter TEXT,
    streams INTEGER,
    created_at INTEGER
);
CREATE TABLE IF NOT EXISTS streams (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scan_id INTEGER NOT NULL REFERENCES scans(id),
    idx INTEGER,
    source TEXT,
    destination TEXT,
    ssrc TEXT,
    payload_types TEXT,
    packets INTEGER,
    expected INTEGER,
    lost INTEGER,
    max_delta_ms REAL,
    max_jitter_ms REAL,
    mean_jitter_ms REAL,
    first_frame INTEGER,
    last_frame INTEGER,
    start_sec REAL,
    duration_sec REAL,
    call_id TEXT,
    secure INTEGER,
    ended INTEGER,
    problem INTEGER
);
`

// Store persists scan results in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveScan stores the streams found in one scan of capture and returns the
// scan id.
func (s *Store) SaveScan(capture, filter string, streams []stats.StreamSummary) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := tx.Exec(`INSERT INTO scans (capture, filter, streams, created_at) VALUES (?, ?, ?, ?)`,
		capture, filter, len(streams), time.Now().Unix())
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to insert scan: %w", err)
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to read scan id: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO streams (
            scan_id, idx, source, destination, ssrc, payload_types,
            packets, expected, lost,
            max_delta_ms, max_jitter_ms, mean_jitter_ms,
            first_frame, last_frame, start_sec, duration_sec,
            call_id, secure, ended, problem
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare stream insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range streams {
		_, err = stmt.Exec(
			scanID, st.Index, st.Source, st.Destination, st.SSRC, st.PayloadTypes,
			st.Packets, st.Expected, st.Lost,
			st.MaxDeltaMs, st.MaxJitterMs, st.MeanJitterMs,
			st.FirstFrame, st.LastFrame, st.StartSec, st.DurationSec,
			st.CallID, st.Secure, st.Ended, st.Problem,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("failed to insert stream %d: %w", st.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit scan: %w", err)
	}

	log.WithFields(log.Fields{
		"scan_id": scanID,
		"streams": len(streams),
	}).Debug("Scan stored")
	return scanID, nil
}

// Streams returns the streams stored for a scan, in table order.
func (s *Store) Streams(scanID int64) ([]stats.StreamSummary, error) {
	rows, err := s.db.Query(`
        SELECT idx, source, destination, ssrc, payload_types,
               packets, expected, lost,
               max_delta_ms, max_jitter_ms, mean_jitter_ms,
               first_frame, last_frame, start_sec, duration_sec,
               call_id, secure, ended, problem
        FROM streams
        WHERE scan_id = ?
        ORDER BY idx
    `, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams of scan %d: %w", scanID, err)
	}
	defer rows.Close()

	var out []stats.StreamSummary
	for rows.Next() {
		var st stats.StreamSummary
		err := rows.Scan(
			&st.Index, &st.Source, &st.Destination, &st.SSRC, &st.PayloadTypes,
			&st.Packets, &st.Expected, &st.Lost,
			&st.MaxDeltaMs, &st.MaxJitterMs, &st.MeanJitterMs,
			&st.FirstFrame, &st.LastFrame, &st.StartSec, &st.DurationSec,
			&st.CallID, &st.Secure, &st.Ended, &st.Problem,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Scan describes one stored scan.
type Scan struct {
	ID        int64
	Capture   string
	Filter    string
	Streams   int
	CreatedAt time.Time
}

// Scans returns the stored scans, newest first.
func (s *Store) Scans() ([]Scan, error) {
	rows, err := s.db.Query(`
        SELECT id, capture, filter, streams, created_at
        FROM scans
        ORDER BY id DESC
    `)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		var sc Scan
		var created int64
		if err := rows.Scan(&sc.ID, &sc.Capture, &sc.Filter, &sc.Streams, &created); err != nil {
			return nil, fmt.Errorf("failed to scan scan row: %w", err)
		}
		sc.CreatedAt = time.Unix(created, 0)
		out = append(out, sc)
	}
	return out, rows.Err()
}
