// Package store defines the storage interface for connection table
// snapshots.
package store

import (
	"time"

	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/stats"
)

// SchemaVersion is incremented when schema changes require a new database.
const SchemaVersion = 1

// SnapshotMeta describes one stored snapshot.
type SnapshotMeta struct {
	ID        int64
	SessionID string
	Device    string
	Reason    string
	TakenAt   time.Time
	Remaining time.Duration
	Counters  stats.Counters
}

// Store defines the interface for snapshot storage.
type Store interface {
	// Lifecycle
	Close() error

	Writer
	Reader
}

// Writer defines write-side operations used by the snapshot reporter.
type Writer interface {
	// BeginBatch starts a batch write transaction.
	BeginBatch() error

	// CommitBatch commits the current batch.
	CommitBatch() error

	// RollbackBatch rolls back the current batch.
	RollbackBatch() error

	// InsertSnapshot stores the snapshot header and returns its ID.
	InsertSnapshot(meta *SnapshotMeta) (int64, error)

	// InsertConnections stores the records of a snapshot in table order.
	InsertConnections(snapshotID int64, records []connection.Record) error
}

// Reader defines read-side operations.
type Reader interface {
	// Snapshots lists the snapshots of a session, oldest first. An empty
	// session ID lists every snapshot.
	Snapshots(sessionID string) ([]SnapshotMeta, error)

	// Connections returns the records of a snapshot in table order.
	Connections(snapshotID int64) ([]connection.Record, error)
}
