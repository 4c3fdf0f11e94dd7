// Package query provides read-side queries over stored snapshots for the
// history command. All data access goes through this package instead of
// directly accessing the store.
package query

import (
	"context"
	"time"

	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store"
)

// Engine provides the history query interface.
type Engine interface {
	// Sessions lists the stored sessions, most recent first.
	Sessions(ctx context.Context) ([]*SessionSummary, error)

	// LatestSnapshot returns the ID of the last snapshot of a session.
	LatestSnapshot(ctx context.Context, sessionID string) (int64, error)

	// Snapshot returns the header of a stored snapshot.
	Snapshot(ctx context.Context, id int64) (*store.SnapshotMeta, error)

	// Connections returns the records of a snapshot matching filter.
	Connections(ctx context.Context, filter ConnectionFilter) ([]connection.Record, error)

	// TopTalkers returns the addresses with the most bytes in a snapshot.
	TopTalkers(ctx context.Context, snapshotID int64, limit int) ([]*TopTalker, error)

	Close() error
}

// ConnectionFilter defines filters for connection queries.
type ConnectionFilter struct {
	SnapshotID int64

	Offset int
	// Limit for pagination (0 means no limit)
	Limit int

	// Address and port match either endpoint
	Addr string
	Port string

	// Transport is "TCP" or "UDP"
	Transport string

	MinBytes int64

	// Sorting
	SortBy    string // "seq", "bytes", "start", "duration"
	SortOrder string // "asc", "desc"
}

// SessionSummary describes one stored session.
type SessionSummary struct {
	SessionID string
	Device    string
	Snapshots int
	FirstAt   time.Time
	LastAt    time.Time
	// LastReason is the reason of the most recent snapshot.
	LastReason string
}

// TopTalker represents an address with high traffic.
type TopTalker struct {
	Addr        string
	Bytes       int64
	Connections int
}
