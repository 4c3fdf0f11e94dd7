// Package report renders connection table snapshots: text tables, JSON
// lines, SQLite rows, NATS messages and an HTTP view of the latest one.
package report

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/MatteoGuarna/packet-sniffer/filter"
	"github.com/MatteoGuarna/packet-sniffer/session"
)

// Reporter is a snapshot sink owned by the application.
type Reporter interface {
	session.Reporter
	Close() error
}

// Multi fans snapshots out to several reporters.
type Multi struct {
	reporters []Reporter
}

// NewMulti returns a reporter that renders to every r in order.
func NewMulti(reporters ...Reporter) *Multi {
	return &Multi{reporters: reporters}
}

// Render renders to every reporter, even after a failure, and returns the
// joined errors.
func (m *Multi) Render(ctx context.Context, snap session.Snapshot) error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Render(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every reporter.
func (m *Multi) Close() error {
	var errs []error
	for _, r := range m.reporters {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Filtered hides records that do not match a display filter. The session
// table itself is never filtered.
type Filtered struct {
	next  Reporter
	match filter.Predicate
}

// NewFiltered wraps next with a display filter.
func NewFiltered(next Reporter, match filter.Predicate) *Filtered {
	return &Filtered{next: next, match: match}
}

// Render passes a filtered copy of snap to the wrapped reporter.
func (f *Filtered) Render(ctx context.Context, snap session.Snapshot) error {
	snap.Connections = filter.Apply(f.match, snap.Connections)
	return f.next.Render(ctx, snap)
}

// Close closes the wrapped reporter.
func (f *Filtered) Close() error {
	return f.next.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// OpenOutput opens a report destination. "-" and "" mean stdout, which is
// never closed.
func OpenOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}
