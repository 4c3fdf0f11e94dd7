package report

import (
	"context"
	"fmt"

	"github.com/MatteoGuarna/packet-sniffer/pkg/store"
	"github.com/MatteoGuarna/packet-sniffer/session"
)

// SQLite stores every snapshot with its connection records.
type SQLite struct {
	st store.Store
}

// NewSQLite returns a reporter writing into st. The reporter owns st.
func NewSQLite(st store.Store) *SQLite {
	return &SQLite{st: st}
}

// Render stores snap in one transaction.
func (s *SQLite) Render(_ context.Context, snap session.Snapshot) error {
	if err := s.st.BeginBatch(); err != nil {
		return err
	}

	meta := &store.SnapshotMeta{
		SessionID: snap.SessionID,
		Device:    snap.Device,
		Reason:    string(snap.Reason),
		TakenAt:   snap.TakenAt,
		Remaining: snap.Remaining,
		Counters:  snap.Counters,
	}
	id, err := s.st.InsertSnapshot(meta)
	if err != nil {
		s.st.RollbackBatch()
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := s.st.InsertConnections(id, snap.Connections); err != nil {
		s.st.RollbackBatch()
		return fmt.Errorf("store connections: %w", err)
	}
	return s.st.CommitBatch()
}

// Close closes the store.
func (s *SQLite) Close() error {
	return s.st.Close()
}
