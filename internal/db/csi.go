package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
	"github.com/banshee-data/csi.report/internal/csi/estimate"
	"github.com/banshee-data/csi.report/internal/csi/grouper"
)

// ErrSessionNotFound is returned for an unknown session ID.
var ErrSessionNotFound = errors.New("capture session not found")

// Session is one run of the capture pipeline.
type Session struct {
	ID        string     `json:"session_id"`
	Source    string     `json:"source"`
	ChanSpec  string     `json:"chanspec"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// StartSession records a new capture session and returns it.
func (db *DB) StartSession(source, chanSpec string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Source:    source,
		ChanSpec:  chanSpec,
		StartedAt: time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO capture_sessions (session_id, source, chanspec, started_unix_ns) VALUES (?, ?, ?, ?)`,
		s.ID, s.Source, s.ChanSpec, s.StartedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession marks the session as finished.
func (db *DB) EndSession(id string) error {
	res, err := db.Exec(
		`UPDATE capture_sessions SET ended_unix_ns = ? WHERE session_id = ?`,
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// Sessions lists the most recent sessions first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, source, chanspec, started_unix_ns, ended_unix_ns
		FROM capture_sessions ORDER BY started_unix_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Source, &s.ChanSpec, &started, &ended); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertSnapshot stores w under sessionID and returns the snapshot ID.
// Coefficients are only kept when withCoefficients is set.
func (db *DB) InsertSnapshot(sessionID string, at time.Time, w *grouper.WifiCsi, withCoefficients bool) (int64, error) {
	var blob []byte
	if withCoefficients {
		blob = EncodeCoefficients(w)
	}
	res, err := db.Exec(
		`INSERT INTO csi_snapshots (session_id, captured_unix_ns, seq_cnt, rssi, chanspec, slot_mask, coefficients)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, at.UnixNano(), w.SeqCnt, w.RSSI, w.ChanSpec.Uint16(), w.Mask(), blob,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot %d: %w", w.SeqCnt, err)
	}
	return res.LastInsertId()
}

// InsertEstimates stores the AoA and ToF results of one snapshot in a
// single transaction.
func (db *DB) InsertEstimates(snapshotID int64, s *estimate.Summary) error {
	if s == nil || (len(s.AoA) == 0 && len(s.ToF) == 0) {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO csi_estimates (snapshot_id, kind, label, value, subcarriers, tap) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range s.AoA {
		if _, err := stmt.Exec(snapshotID, "aoa", a.Pair, a.Radians, a.Subcarriers, nil); err != nil {
			return fmt.Errorf("failed to insert AoA estimate: %w", err)
		}
	}
	for _, d := range s.ToF {
		if _, err := stmt.Exec(snapshotID, "tof", coreLabel(d.Core), float64(d.Delay.Nanoseconds()), nil, d.Tap); err != nil {
			return fmt.Errorf("failed to insert ToF estimate: %w", err)
		}
	}
	return tx.Commit()
}

func coreLabel(core int) string { return "core" + strconv.Itoa(core) }

// StoredSnapshot is a snapshot read back from the database. Snapshot.Frames
// is empty when coefficients were not kept.
type StoredSnapshot struct {
	ID         int64
	SessionID  string
	CapturedAt time.Time
	Snapshot   grouper.WifiCsi
}

// RecentSnapshots returns up to limit snapshots of sessionID, newest first.
func (db *DB) RecentSnapshots(sessionID string, limit int) ([]StoredSnapshot, error) {
	rows, err := db.Query(
		`SELECT snapshot_id, captured_unix_ns, seq_cnt, rssi, chanspec, coefficients
		FROM csi_snapshots WHERE session_id = ?
		ORDER BY captured_unix_ns DESC, snapshot_id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredSnapshot
	for rows.Next() {
		var (
			s        = StoredSnapshot{SessionID: sessionID}
			captured int64
			rawCS    uint16
			blob     []byte
		)
		if err := rows.Scan(&s.ID, &captured, &s.Snapshot.SeqCnt, &s.Snapshot.RSSI, &rawCS, &blob); err != nil {
			return nil, err
		}
		s.CapturedAt = time.Unix(0, captured).UTC()
		cs, err := chanspec.Decode(rawCS)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.ID, err)
		}
		s.Snapshot.ChanSpec = cs
		if err := DecodeCoefficients(blob, &s.Snapshot); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// EstimateMean is the mean of one estimate series over a session.
type EstimateMean struct {
	Kind  string  `json:"kind"`
	Label string  `json:"label"`
	Mean  float64 `json:"mean"`
	Count int64   `json:"count"`
}

// SessionSummary aggregates a session.
type SessionSummary struct {
	Session   Session        `json:"session"`
	Snapshots int64          `json:"snapshots"`
	MeanRSSI  float64        `json:"mean_rssi"`
	First     time.Time      `json:"first,omitempty"`
	Last      time.Time      `json:"last,omitempty"`
	Estimates []EstimateMean `json:"estimates,omitempty"`
}

// SessionSummary returns snapshot counts, mean RSSI and the per-series
// means of every estimate recorded in session id.
func (db *DB) SessionSummary(id string) (*SessionSummary, error) {
	var (
		sum     = &SessionSummary{}
		started int64
		ended   sql.NullInt64
	)
	err := db.QueryRow(
		`SELECT session_id, source, chanspec, started_unix_ns, ended_unix_ns
		FROM capture_sessions WHERE session_id = ?`, id,
	).Scan(&sum.Session.ID, &sum.Session.Source, &sum.Session.ChanSpec, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	sum.Session.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		sum.Session.EndedAt = &t
	}

	var first, last sql.NullInt64
	var meanRSSI sql.NullFloat64
	err = db.QueryRow(
		`SELECT COUNT(*), AVG(rssi), MIN(captured_unix_ns), MAX(captured_unix_ns)
		FROM csi_snapshots WHERE session_id = ?`, id,
	).Scan(&sum.Snapshots, &meanRSSI, &first, &last)
	if err != nil {
		return nil, err
	}
	sum.MeanRSSI = meanRSSI.Float64
	if first.Valid {
		sum.First = time.Unix(0, first.Int64).UTC()
		sum.Last = time.Unix(0, last.Int64).UTC()
	}

	rows, err := db.Query(
		`SELECT e.kind, e.label, AVG(e.value), COUNT(*)
		FROM csi_estimates e JOIN csi_snapshots s ON s.snapshot_id = e.snapshot_id
		WHERE s.session_id = ?
		GROUP BY e.kind, e.label ORDER BY e.kind, e.label`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m EstimateMean
		if err := rows.Scan(&m.Kind, &m.Label, &m.Mean, &m.Count); err != nil {
			return nil, err
		}
		sum.Estimates = append(sum.Estimates, m)
	}
	return sum, rows.Err()
}
