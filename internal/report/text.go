package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/MatteoGuarna/packet-sniffer/capture"
	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/session"
	"github.com/MatteoGuarna/packet-sniffer/stats"
)

const rule = "================================================================================"

// TextOptions controls the text table.
type TextOptions struct {
	// Color enables ANSI colors for headers.
	Color bool
	// Services appends well-known service names to ports.
	Services bool
}

// Text renders snapshots as aligned tables.
type Text struct {
	mu     sync.Mutex
	w      io.WriteCloser
	opts   TextOptions
	header *color.Color
	proto  map[connection.Transport]*color.Color
}

// NewText returns a text reporter writing to w.
func NewText(w io.WriteCloser, opts TextOptions) *Text {
	t := &Text{
		w:      w,
		opts:   opts,
		header: color.New(color.Bold, color.FgCyan),
		proto: map[connection.Transport]*color.Color{
			connection.TCP: color.New(color.FgYellow),
			connection.UDP: color.New(color.FgMagenta),
		},
	}
	if !opts.Color {
		t.header.DisableColor()
		for _, c := range t.proto {
			c.DisableColor()
		}
	} else {
		t.header.EnableColor()
		for _, c := range t.proto {
			c.EnableColor()
		}
	}
	return t
}

// Render writes one table.
func (t *Text) Render(_ context.Context, snap session.Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, t.header.Sprintf("Connections (%s) at %s", snap.Reason, snap.TakenAt.Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "session %s", snap.SessionID)
	if snap.Device != "" {
		fmt.Fprintf(&b, "  device %s", snap.Device)
	}
	fmt.Fprintf(&b, "  remaining %s\n", stats.FormatDuration(snap.Remaining))
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "%-5s %-4s %-30s %-30s %10s %9s %-12s %-12s\n",
		"Proto", "IP", "Address A", "Address B", "Bytes", "Duration", "First seen", "Last seen")

	for i := range snap.Connections {
		r := &snap.Connections[i]
		proto := fmt.Sprintf("%-5s", r.L4)
		if c, ok := t.proto[r.L4]; ok {
			proto = c.Sprint(proto)
		}
		fmt.Fprintf(&b, "%s %-4s %-30s %-30s %10s %9s %-12s %-12s\n",
			proto,
			ipLabel(r.L3),
			stats.Truncate(t.endpoint(r.AddrA, r.PortA), 30),
			stats.Truncate(t.endpoint(r.AddrB, r.PortB), 30),
			stats.FormatBytes(int64(r.Bytes)),
			stats.FormatDuration(r.Duration()),
			r.Start.Format("15:04:05.000"),
			r.End.Format("15:04:05.000"),
		)
	}

	fmt.Fprintln(&b, strings.Repeat("-", len(rule)))
	fmt.Fprintf(&b, "%d connections  %s\n", len(snap.Connections), snap.Counters)
	fmt.Fprintln(&b, rule)

	_, err := io.WriteString(t.w, b.String())
	return err
}

// Close closes the destination.
func (t *Text) Close() error {
	return t.w.Close()
}

func (t *Text) endpoint(addr, port string) string {
	if t.opts.Services {
		port = capture.FormatPort(port)
	}
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%s", addr, port)
	}
	return fmt.Sprintf("%s:%s", addr, port)
}

func ipLabel(v connection.IPVersion) string {
	if v == connection.IPv6 {
		return "v6"
	}
	return "v4"
}
