// Package capture defines the frame source contract used by a capture session
// together with the offline file source and the pcapng frame recorder.
// The live libpcap source lives in capture/device.
package capture

import (
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrPollTimeout is returned by NextFrame when the bounded poll elapsed
// without a frame. It is not a failure; callers simply poll again.
var ErrPollTimeout = errors.New("capture: poll timeout")

// Frame is one raw link-layer packet handed up from a source.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	// Length is the original length on the wire, which may exceed len(Data)
	// when the snap length truncated the frame.
	Length   int
	LinkType layers.LinkType
}

// NewFrame builds a Frame from pcap capture metadata.
func NewFrame(data []byte, ci gopacket.CaptureInfo, linkType layers.LinkType) Frame {
	length := ci.Length
	if length == 0 {
		length = len(data)
	}
	return Frame{
		Data:      data,
		Timestamp: ci.Timestamp,
		Length:    length,
		LinkType:  linkType,
	}
}

// CaptureInfo converts the frame back into gopacket capture metadata.
func (f Frame) CaptureInfo() gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     f.Timestamp,
		CaptureLength: len(f.Data),
		Length:        f.Length,
	}
}

// Source yields raw frames.
//
// NextFrame blocks for at most the source's poll timeout. It returns
// ErrPollTimeout when no frame arrived in time and io.EOF once a finite
// source is exhausted.
type Source interface {
	NextFrame() (Frame, error)
	LinkType() layers.LinkType
	Close() error
}
