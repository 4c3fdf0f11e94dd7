package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store/sqlite"
)

// ErrNoSnapshot is returned when a session has no stored snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// SQLiteEngine implements Engine using SQLite storage.
type SQLiteEngine struct {
	store *sqlite.SQLiteStore
}

var _ Engine = (*SQLiteEngine)(nil)

// NewSQLiteEngine creates a new SQLite-backed query engine.
func NewSQLiteEngine(store *sqlite.SQLiteStore) *SQLiteEngine {
	return &SQLiteEngine{store: store}
}

// Open opens an existing snapshot database read-only.
func Open(dbPath string) (*SQLiteEngine, error) {
	store, err := sqlite.New(sqlite.Config{DBPath: dbPath, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	return NewSQLiteEngine(store), nil
}

// Close closes the underlying store.
func (e *SQLiteEngine) Close() error {
	return e.store.Close()
}

// Sessions lists the stored sessions, most recent first.
func (e *SQLiteEngine) Sessions(ctx context.Context) ([]*SessionSummary, error) {
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT s.session_id, COALESCE(MAX(s.device), ''), COUNT(*),
		       MIN(s.taken_ns), MAX(s.taken_ns),
		       (SELECT reason FROM snapshots l WHERE l.session_id = s.session_id ORDER BY l.id DESC LIMIT 1)
		FROM snapshots s
		GROUP BY s.session_id
		ORDER BY MAX(s.id) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionSummary
	for rows.Next() {
		var (
			s           SessionSummary
			first, last int64
		)
		if err := rows.Scan(&s.SessionID, &s.Device, &s.Snapshots, &first, &last, &s.LastReason); err != nil {
			return nil, err
		}
		s.FirstAt = time.Unix(0, first)
		s.LastAt = time.Unix(0, last)
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// LatestSnapshot returns the ID of the last snapshot of a session. An empty
// session ID selects the last snapshot in the database.
func (e *SQLiteEngine) LatestSnapshot(ctx context.Context, sessionID string) (int64, error) {
	query := `SELECT id FROM snapshots`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var id int64
	err := e.store.DB().QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoSnapshot
	}
	if err != nil {
		return 0, fmt.Errorf("query latest snapshot: %w", err)
	}
	return id, nil
}

// Snapshot returns the header of a stored snapshot.
func (e *SQLiteEngine) Snapshot(ctx context.Context, id int64) (*store.SnapshotMeta, error) {
	row := e.store.DB().QueryRowContext(ctx, `
		SELECT id, session_id, device, reason, taken_ns, remaining_ns, counters
		FROM snapshots WHERE id = ?`, id)

	meta, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNoSnapshot, id)
	}
	return meta, err
}

// Connections returns the records of a snapshot matching filter.
func (e *SQLiteEngine) Connections(ctx context.Context, filter ConnectionFilter) ([]connection.Record, error) {
	query := `SELECT l3, l4, addr_a, port_a, addr_b, port_b, start_ns, end_ns, bytes
	          FROM connections WHERE snapshot_id = ?`

	args := []interface{}{filter.SnapshotID}

	if filter.Addr != "" {
		query += " AND (addr_a = ? OR addr_b = ?)"
		args = append(args, filter.Addr, filter.Addr)
	}
	if filter.Port != "" {
		query += " AND (port_a = ? OR port_b = ?)"
		args = append(args, filter.Port, filter.Port)
	}
	if filter.Transport != "" {
		query += " AND l4 = ?"
		args = append(args, strings.ToUpper(filter.Transport))
	}
	if filter.MinBytes > 0 {
		query += " AND bytes >= ?"
		args = append(args, filter.MinBytes)
	}

	// Sorting
	sortCol := "seq"
	switch filter.SortBy {
	case "bytes":
		sortCol = "bytes"
	case "start":
		sortCol = "start_ns"
	case "duration":
		sortCol = "(end_ns - start_ns)"
	}
	sortOrder := "ASC"
	if filter.SortOrder == "desc" {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortCol, sortOrder)

	// Pagination. SQLite only accepts OFFSET after LIMIT; -1 means no limit.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var records []connection.Record
	for rows.Next() {
		r, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TopTalkers returns the addresses with the most bytes in a snapshot.
func (e *SQLiteEngine) TopTalkers(ctx context.Context, snapshotID int64, limit int) ([]*TopTalker, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.store.DB().QueryContext(ctx, `
		SELECT addr, SUM(bytes) as total_bytes, COUNT(*) as conn_count
		FROM (
			SELECT addr_a as addr, bytes FROM connections WHERE snapshot_id = ?
			UNION ALL
			SELECT addr_b as addr, bytes FROM connections WHERE snapshot_id = ?
		)
		GROUP BY addr
		ORDER BY total_bytes DESC, addr ASC
		LIMIT ?`, snapshotID, snapshotID, limit)
	if err != nil {
		return nil, fmt.Errorf("query top talkers: %w", err)
	}
	defer rows.Close()

	var talkers []*TopTalker
	for rows.Next() {
		var t TopTalker
		if err := rows.Scan(&t.Addr, &t.Bytes, &t.Connections); err != nil {
			return nil, err
		}
		talkers = append(talkers, &t)
	}
	return talkers, rows.Err()
}

// ────────────────────────────────────────────────────────────────────────────────
// Scanner helpers
// ────────────────────────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*store.SnapshotMeta, error) {
	var (
		m                  store.SnapshotMeta
		device, counters   sql.NullString
		takenNS, remaining int64
	)
	if err := row.Scan(&m.ID, &m.SessionID, &device, &m.Reason, &takenNS, &remaining, &counters); err != nil {
		return nil, err
	}
	m.Device = device.String
	m.TakenAt = time.Unix(0, takenNS)
	m.Remaining = time.Duration(remaining)
	if counters.Valid && counters.String != "" {
		if err := json.Unmarshal([]byte(counters.String), &m.Counters); err != nil {
			return nil, fmt.Errorf("decode counters of snapshot %d: %w", m.ID, err)
		}
	}
	return &m, nil
}

func scanConnection(row rowScanner) (connection.Record, error) {
	var (
		r              connection.Record
		l3, l4         string
		startNS, endNS int64
		bytes          int64
	)
	if err := row.Scan(&l3, &l4, &r.AddrA, &r.PortA, &r.AddrB, &r.PortB, &startNS, &endNS, &bytes); err != nil {
		return r, err
	}
	if err := r.L3.UnmarshalText([]byte(l3)); err != nil {
		return r, err
	}
	if err := r.L4.UnmarshalText([]byte(l4)); err != nil {
		return r, err
	}
	r.Start = time.Unix(0, startNS)
	r.End = time.Unix(0, endNS)
	r.Bytes = uint64(bytes)
	return r, nil
}
