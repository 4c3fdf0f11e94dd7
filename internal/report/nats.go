package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MatteoGuarna/packet-sniffer/session"
)

// DefaultSubject is used when no NATS subject is configured.
const DefaultSubject = "sniffer.snapshots"

// NATS publishes every snapshot as a JSON message.
type NATS struct {
	nc      *nats.Conn
	subject string
}

// NewNATS connects to the NATS server at url.
func NewNATS(url, subject string) (*NATS, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("packet-sniffer"),
		nats.Timeout(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

// Subject returns the subject snapshots are published on.
func (n *NATS) Subject() string {
	return n.subject
}

// Render publishes snap and waits for the server to acknowledge it.
func (n *NATS) Render(ctx context.Context, snap session.Snapshot) error {
	data, err := json.Marshal(normalize(snap))
	if err != nil {
		return err
	}
	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return n.nc.FlushTimeout(timeout)
}

// Close drains and closes the connection.
func (n *NATS) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}
