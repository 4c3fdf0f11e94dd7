// Package connection aggregates decoded frames into bidirectional connection records.
package connection

import (
	"fmt"
	"time"
)

// IPVersion is the network layer of a connection.
type IPVersion int

const (
	IPv4 IPVersion = iota
	IPv6
)

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("IPVersion(%d)", int(v))
	}
}

// MarshalText encodes the version as "IPv4" or "IPv6".
func (v IPVersion) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText accepts the forms produced by MarshalText.
func (v *IPVersion) UnmarshalText(text []byte) error {
	switch string(text) {
	case "IPv4":
		*v = IPv4
	case "IPv6":
		*v = IPv6
	default:
		return fmt.Errorf("unknown IP version %q", text)
	}
	return nil
}

// Transport is the transport layer of a connection.
type Transport int

const (
	TCP Transport = iota
	UDP
)

func (t Transport) String() string {
	switch t {
	case TCP:
		return "TCP"
	case UDP:
		return "UDP"
	default:
		return fmt.Sprintf("Transport(%d)", int(t))
	}
}

// MarshalText encodes the transport as "TCP" or "UDP".
func (t Transport) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the forms produced by MarshalText.
func (t *Transport) UnmarshalText(text []byte) error {
	switch string(text) {
	case "TCP":
		*t = TCP
	case "UDP":
		*t = UDP
	default:
		return fmt.Errorf("unknown transport %q", text)
	}
	return nil
}

// Endpoint is one side of a connection.
type Endpoint struct {
	Addr string
	Port string
}

func (e Endpoint) String() string {
	if e.Port == "" {
		return e.Addr
	}
	return e.Addr + ":" + e.Port
}

func (e Endpoint) less(o Endpoint) bool {
	if e.Addr != o.Addr {
		return e.Addr < o.Addr
	}
	return e.Port < o.Port
}

// Record is the aggregated state of one bidirectional flow.
// A is the first-seen endpoint. Only End and Bytes change after creation.
type Record struct {
	L3    IPVersion `json:"l3"`
	AddrA string    `json:"addr_a"`
	PortA string    `json:"port_a"`
	AddrB string    `json:"addr_b"`
	PortB string    `json:"port_b"`
	L4    Transport `json:"l4"`
	Start time.Time `json:"ts_start"`
	End   time.Time `json:"ts_end"`
	Bytes uint64    `json:"bytes"`
}

// NewRecord builds a record for a single frame travelling from a to b.
func NewRecord(l3 IPVersion, l4 Transport, a, b Endpoint, ts time.Time, bytes uint64) Record {
	return Record{
		L3:    l3,
		AddrA: a.Addr,
		PortA: a.Port,
		AddrB: b.Addr,
		PortB: b.Port,
		L4:    l4,
		Start: ts,
		End:   ts,
		Bytes: bytes,
	}
}

// A returns the first-seen endpoint.
func (r *Record) A() Endpoint { return Endpoint{Addr: r.AddrA, Port: r.PortA} }

// B returns the peer of A.
func (r *Record) B() Endpoint { return Endpoint{Addr: r.AddrB, Port: r.PortB} }

// Duration is the time between the first and the latest frame.
func (r *Record) Duration() time.Duration { return r.End.Sub(r.Start) }

// Update merges a later frame into the record. End never moves backwards,
// so End >= Start holds even when frames arrive out of timestamp order.
func (r *Record) Update(end time.Time, bytes uint64) {
	if end.After(r.End) {
		r.End = end
	}
	r.Bytes += bytes
}

// Key is the direction-agnostic identity of a connection: the transport plus
// the endpoint pair sorted so that Lo <= Hi.
type Key struct {
	L4 Transport
	Lo Endpoint
	Hi Endpoint
}

func (k Key) String() string {
	return fmt.Sprintf("%s %s-%s", k.L4, k.Lo, k.Hi)
}

// Key returns the canonical identity of the record.
func (r *Record) Key() Key {
	a, b := r.A(), r.B()
	if b.less(a) {
		a, b = b, a
	}
	return Key{L4: r.L4, Lo: a, Hi: b}
}

// SameConnection reports whether r and o describe the same connection: same
// transport and the same unordered pair of endpoints.
func (r *Record) SameConnection(o *Record) bool {
	if r.L4 != o.L4 {
		return false
	}
	ra, rb, oa, ob := r.A(), r.B(), o.A(), o.B()
	return (ra == oa && rb == ob) || (ra == ob && rb == oa)
}
