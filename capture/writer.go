package capture

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Recorder writes frames to a pcapng file.
type Recorder struct {
	file     *os.File
	writer   *pcapgo.NgWriter
	mu       sync.Mutex
	count    int
	filename string
	closed   bool
}

// NewRecorder creates a pcapng recorder for frames of the given link type.
func NewRecorder(filename string, linkType layers.LinkType, snapLen uint32) (*Recorder, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filename, err)
	}

	ngOptions := pcapgo.NgWriterOptions{
		SectionInfo: pcapgo.NgSectionInfo{
			Application: "packet-sniffer",
		},
	}

	writer, err := pcapgo.NewNgWriterInterface(file, pcapgo.NgInterface{
		Name:       "packet-sniffer",
		LinkType:   linkType,
		SnapLength: snapLen,
	}, ngOptions)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create pcapng writer: %w", err)
	}

	return &Recorder{
		file:     file,
		writer:   writer,
		filename: filename,
	}, nil
}

// WriteFrame appends one frame to the file.
func (r *Recorder) WriteFrame(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}
	if len(f.Data) == 0 {
		return nil
	}

	if err := r.writer.WritePacket(f.CaptureInfo(), f.Data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	r.count++
	return nil
}

// Close flushes buffered frames and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.writer.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush: %w", err)
	}
	return r.file.Close()
}

// Count returns the number of frames written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Filename returns the output filename.
func (r *Recorder) Filename() string {
	return r.filename
}

// GenerateFilename returns a timestamped pcapng filename such as
// "session_20240101_120000.pcapng".
func GenerateFilename(prefix string) string {
	ts := time.Now().Format("20060102_150405")
	return fmt.Sprintf("%s_%s.pcapng", prefix, ts)
}
