package report

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/session"
)

// JSON writes one JSON document per snapshot, newline separated.
type JSON struct {
	mu  sync.Mutex
	w   io.WriteCloser
	enc *json.Encoder
}

// NewJSON returns a JSON lines reporter writing to w.
func NewJSON(w io.WriteCloser) *JSON {
	return &JSON{w: w, enc: json.NewEncoder(w)}
}

// Render encodes snap.
func (j *JSON) Render(_ context.Context, snap session.Snapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(normalize(snap))
}

// Close closes the destination.
func (j *JSON) Close() error {
	return j.w.Close()
}

// normalize makes an empty table encode as [] rather than null.
func normalize(snap session.Snapshot) session.Snapshot {
	if snap.Connections == nil {
		snap.Connections = []connection.Record{}
	}
	return snap
}
