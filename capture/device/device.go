// Package device opens live capture sources on local network interfaces
// through libpcap.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/MatteoGuarna/packet-sniffer/capture"
)

// Session-establishment failures.
var (
	ErrEnumerate       = errors.New("device enumeration failed")
	ErrIndexOutOfRange = errors.New("device index out of range")
	ErrOpen            = errors.New("failed to open capture handle")
	ErrFilter          = errors.New("invalid filter expression")
)

// Options configures a live capture handle.
type Options struct {
	Promiscuous bool
	SnapLen     int32
	// PollTimeout bounds each NextFrame call so the capture loop can observe
	// session events while the link is idle.
	PollTimeout time.Duration
	Filter      string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Promiscuous: true,
		SnapLen:     65536,
		PollTimeout: 500 * time.Millisecond,
	}
}

// ListInterfaces returns available network interfaces.
func ListInterfaces() ([]pcap.Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnumerate, err)
	}
	return devs, nil
}

// ByIndex returns the name of the index-th enumerated interface.
func ByIndex(index int) (string, error) {
	devs, err := ListInterfaces()
	if err != nil {
		return "", err
	}
	return pick(devs, index)
}

func pick(devs []pcap.Interface, index int) (string, error) {
	if index < 0 || index >= len(devs) {
		return "", fmt.Errorf("%w: %d (%d devices available)", ErrIndexOutOfRange, index, len(devs))
	}
	return devs[index].Name, nil
}

// LiveSource reads frames from a network interface.
type LiveSource struct {
	handle *pcap.Handle
	name   string
}

// Open opens a live capture handle on the named interface and installs the
// BPF filter, if any.
func Open(name string, opts Options) (*LiveSource, error) {
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = DefaultOptions().PollTimeout
	}
	snapLen := opts.SnapLen
	if snapLen <= 0 {
		snapLen = DefaultOptions().SnapLen
	}

	handle, err := pcap.OpenLive(name, snapLen, opts.Promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: interface %s: %v", ErrOpen, name, err)
	}

	if opts.Filter != "" {
		if err := handle.SetBPFFilter(opts.Filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: %q: %v", ErrFilter, opts.Filter, err)
		}
	}

	return &LiveSource{handle: handle, name: name}, nil
}

// NextFrame waits up to the poll timeout for the next frame.
func (s *LiveSource) NextFrame() (capture.Frame, error) {
	data, ci, err := s.handle.ReadPacketData()
	switch {
	case err == pcap.NextErrorTimeoutExpired:
		return capture.Frame{}, capture.ErrPollTimeout
	case err != nil:
		return capture.Frame{}, err
	}
	return capture.NewFrame(data, ci, s.handle.LinkType()), nil
}

// LinkType returns the data link type of the interface.
func (s *LiveSource) LinkType() layers.LinkType {
	return s.handle.LinkType()
}

// Name returns the interface name.
func (s *LiveSource) Name() string {
	return s.name
}

// Stats returns kernel-level receive and drop counters.
func (s *LiveSource) Stats() (*pcap.Stats, error) {
	return s.handle.Stats()
}

// Close releases the capture handle.
func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
