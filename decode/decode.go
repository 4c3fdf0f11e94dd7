// Package decode turns raw frames into the transport tuple used for
// connection aggregation.
package decode

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/MatteoGuarna/packet-sniffer/capture"
	"github.com/MatteoGuarna/packet-sniffer/connection"
)

// Reasons a frame never reaches the connection table.
var (
	ErrMalformed            = errors.New("malformed frame")
	ErrNoNetworkLayer       = errors.New("no IPv4/IPv6 header")
	ErrUnsupportedTransport = errors.New("unsupported transport")
)

// Tuple is the structured result of decoding one frame.
type Tuple struct {
	L3        connection.IPVersion
	SrcAddr   string
	DstAddr   string
	L4        connection.Transport
	SrcPort   string
	DstPort   string
	Timestamp time.Time
	Length    int
}

// Record builds a candidate connection record from the tuple.
func (t Tuple) Record() connection.Record {
	return connection.NewRecord(
		t.L3,
		t.L4,
		connection.Endpoint{Addr: t.SrcAddr, Port: t.SrcPort},
		connection.Endpoint{Addr: t.DstAddr, Port: t.DstPort},
		t.Timestamp,
		uint64(t.Length),
	)
}

// Decoder parses link, network and transport headers.
type Decoder struct{}

// NewDecoder returns a frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode extracts the transport tuple from a frame. Frames without an IP
// header or with a transport other than TCP/UDP are rejected.
func (d *Decoder) Decode(f capture.Frame) (Tuple, error) {
	packet := gopacket.NewPacket(f.Data, f.LinkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	tuple := Tuple{
		Timestamp: f.Timestamp,
		Length:    f.Length,
	}
	if tuple.Length == 0 {
		tuple.Length = len(f.Data)
	}

	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		tuple.L3 = connection.IPv4
		tuple.SrcAddr = ip.SrcIP.String()
		tuple.DstAddr = ip.DstIP.String()
	case *layers.IPv6:
		tuple.L3 = connection.IPv6
		tuple.SrcAddr = ip.SrcIP.String()
		tuple.DstAddr = ip.DstIP.String()
	default:
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return Tuple{}, fmt.Errorf("%w: %v", ErrMalformed, errLayer.Error())
		}
		return Tuple{}, ErrNoNetworkLayer
	}

	switch tr := packet.TransportLayer().(type) {
	case *layers.TCP:
		tuple.L4 = connection.TCP
		tuple.SrcPort = strconv.Itoa(int(tr.SrcPort))
		tuple.DstPort = strconv.Itoa(int(tr.DstPort))
	case *layers.UDP:
		tuple.L4 = connection.UDP
		tuple.SrcPort = strconv.Itoa(int(tr.SrcPort))
		tuple.DstPort = strconv.Itoa(int(tr.DstPort))
	default:
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return Tuple{}, fmt.Errorf("%w: %v", ErrMalformed, errLayer.Error())
		}
		if tr != nil {
			return Tuple{}, fmt.Errorf("%w: %s", ErrUnsupportedTransport, tr.LayerType())
		}
		return Tuple{}, ErrUnsupportedTransport
	}

	return tuple, nil
}
