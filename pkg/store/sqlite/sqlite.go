// Package sqlite provides the SQLite implementation of store.Store.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store"
)

// Config holds configuration for the SQLite store.
type Config struct {
	// Path to the SQLite database file.
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool

	// WAL enables WAL mode for better concurrency.
	WAL bool
}

// SQLiteStore is the SQLite implementation of store.Store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config

	// Write transaction state
	mu    sync.Mutex
	tx    *sql.Tx
	stmts map[string]*sql.Stmt // Prepared statements within tx
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store.
func New(cfg Config) (*SQLiteStore, error) {
	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + cfg.DBPath
	params := "?_foreign_keys=on"
	if cfg.ReadOnly {
		params += "&mode=ro"
	}
	if cfg.WAL {
		params += "&_journal_mode=WAL"
	}
	dsn += params

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:    db,
		path:  cfg.DBPath,
		cfg:   cfg,
		stmts: make(map[string]*sql.Stmt),
	}

	if cfg.ReadOnly {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	} else if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.tx != nil {
		s.closeStmts()
		s.tx.Rollback()
		s.tx = nil
	}
	s.mu.Unlock()
	return s.db.Close()
}

// DB returns the underlying database for read-side queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// ────────────────────────────────────────────────────────────────────────────────
// Schema Initialization
// ────────────────────────────────────────────────────────────────────────────────

func (s *SQLiteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

-- One row per rendered snapshot (every pause and the end of a session)
CREATE TABLE IF NOT EXISTS snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id   TEXT NOT NULL,
	device       TEXT,
	reason       TEXT NOT NULL,
	taken_ns     INTEGER NOT NULL,
	remaining_ns INTEGER NOT NULL,
	counters     TEXT     -- JSON encoded stats.Counters
);

-- Connection records of a snapshot, seq is the table position
CREATE TABLE IF NOT EXISTS connections (
	snapshot_id INTEGER NOT NULL,
	seq         INTEGER NOT NULL,
	l3          TEXT NOT NULL,
	l4          TEXT NOT NULL,
	addr_a      TEXT NOT NULL,
	port_a      TEXT NOT NULL,
	addr_b      TEXT NOT NULL,
	port_b      TEXT NOT NULL,
	start_ns    INTEGER NOT NULL,
	end_ns      INTEGER NOT NULL,
	bytes       INTEGER NOT NULL,
	PRIMARY KEY (snapshot_id, seq),
	FOREIGN KEY (snapshot_id) REFERENCES snapshots(id)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id);
CREATE INDEX IF NOT EXISTS idx_connections_bytes ON connections(bytes DESC);
CREATE INDEX IF NOT EXISTS idx_connections_addr_a ON connections(addr_a);
CREATE INDEX IF NOT EXISTS idx_connections_addr_b ON connections(addr_b);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		"schema_version", fmt.Sprintf("%d", store.SchemaVersion))
	return err
}

// ────────────────────────────────────────────────────────────────────────────────
// Batch Operations
// ────────────────────────────────────────────────────────────────────────────────

// BeginBatch starts a batch write transaction.
func (s *SQLiteStore) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return fmt.Errorf("batch already in progress")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	s.tx = tx
	return nil
}

// CommitBatch commits the current batch.
func (s *SQLiteStore) CommitBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	s.closeStmts()
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// RollbackBatch rolls back the current batch.
func (s *SQLiteStore) RollbackBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	s.closeStmts()
	err := s.tx.Rollback()
	s.tx = nil
	return err
}

func (s *SQLiteStore) closeStmts() {
	for name, stmt := range s.stmts {
		stmt.Close()
		delete(s.stmts, name)
	}
}

// getStmt returns a prepared statement within the current transaction.
func (s *SQLiteStore) getStmt(name, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmts[name]; ok {
		return stmt, nil
	}
	stmt, err := s.tx.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", name, err)
	}
	s.stmts[name] = stmt
	return stmt, nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Write Operations
// ────────────────────────────────────────────────────────────────────────────────

// InsertSnapshot stores the snapshot header and returns its ID.
func (s *SQLiteStore) InsertSnapshot(meta *store.SnapshotMeta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return 0, fmt.Errorf("no batch in progress")
	}

	counters, err := json.Marshal(meta.Counters)
	if err != nil {
		return 0, fmt.Errorf("marshal counters: %w", err)
	}

	const query = `INSERT INTO snapshots (
		session_id, device, reason, taken_ns, remaining_ns, counters
	) VALUES (?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_snapshot", query)
	if err != nil {
		return 0, err
	}

	res, err := stmt.Exec(
		meta.SessionID, meta.Device, meta.Reason,
		meta.TakenAt.UnixNano(), int64(meta.Remaining), string(counters),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	meta.ID = id
	return id, nil
}

// InsertConnections stores the records of a snapshot in table order.
func (s *SQLiteStore) InsertConnections(snapshotID int64, records []connection.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return fmt.Errorf("no batch in progress")
	}

	const query = `INSERT INTO connections (
		snapshot_id, seq, l3, l4, addr_a, port_a, addr_b, port_b, start_ns, end_ns, bytes
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.getStmt("insert_connection", query)
	if err != nil {
		return err
	}

	for i, r := range records {
		_, err := stmt.Exec(
			snapshotID, i, r.L3.String(), r.L4.String(),
			r.AddrA, r.PortA, r.AddrB, r.PortB,
			r.Start.UnixNano(), r.End.UnixNano(), int64(r.Bytes),
		)
		if err != nil {
			return fmt.Errorf("insert connection %d: %w", i, err)
		}
	}
	return nil
}

// ────────────────────────────────────────────────────────────────────────────────
// Read Operations
// ────────────────────────────────────────────────────────────────────────────────

// Snapshots lists the snapshots of a session, oldest first.
func (s *SQLiteStore) Snapshots(sessionID string) ([]store.SnapshotMeta, error) {
	query := `SELECT id, session_id, device, reason, taken_ns, remaining_ns, counters FROM snapshots`
	var args []interface{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var metas []store.SnapshotMeta
	for rows.Next() {
		var (
			m                  store.SnapshotMeta
			device, counters   sql.NullString
			takenNS, remaining int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &device, &m.Reason, &takenNS, &remaining, &counters); err != nil {
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
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Connections returns the records of a snapshot in table order.
func (s *SQLiteStore) Connections(snapshotID int64) ([]connection.Record, error) {
	rows, err := s.db.Query(`SELECT l3, l4, addr_a, port_a, addr_b, port_b, start_ns, end_ns, bytes
		FROM connections WHERE snapshot_id = ? ORDER BY seq`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var records []connection.Record
	for rows.Next() {
		var (
			r              connection.Record
			l3, l4         string
			startNS, endNS int64
			bytes          int64
		)
		if err := rows.Scan(&l3, &l4, &r.AddrA, &r.PortA, &r.AddrB, &r.PortB, &startNS, &endNS, &bytes); err != nil {
			return nil, err
		}
		if err := r.L3.UnmarshalText([]byte(l3)); err != nil {
			return nil, err
		}
		if err := r.L4.UnmarshalText([]byte(l4)); err != nil {
			return nil, err
		}
		r.Start = time.Unix(0, startNS)
		r.End = time.Unix(0, endNS)
		r.Bytes = uint64(bytes)
		records = append(records, r)
	}
	return records, rows.Err()
}
