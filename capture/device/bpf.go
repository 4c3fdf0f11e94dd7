package device

import (
	"fmt"

	"github.com/google/gopacket/pcap"

	"github.com/MatteoGuarna/packet-sniffer/capture"
)

// BPFSource applies a BPF filter to a source that cannot filter in the
// kernel, such as a capture file.
type BPFSource struct {
	capture.Source
	bpf *pcap.BPF
}

// NewBPFSource compiles expr for src's link type.
func NewBPFSource(src capture.Source, expr string, snapLen int) (*BPFSource, error) {
	if snapLen <= 0 {
		snapLen = int(DefaultOptions().SnapLen)
	}
	bpf, err := pcap.NewBPF(src.LinkType(), snapLen, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrFilter, expr, err)
	}
	return &BPFSource{Source: src, bpf: bpf}, nil
}

// NextFrame returns the next frame that matches the filter.
func (s *BPFSource) NextFrame() (capture.Frame, error) {
	for {
		f, err := s.Source.NextFrame()
		if err != nil {
			return f, err
		}
		if s.bpf.Matches(f.CaptureInfo(), f.Data) {
			return f, nil
		}
	}
}
