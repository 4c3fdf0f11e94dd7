package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapng files start with a Section Header Block.
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays frames from a pcap or pcapng file.
type FileSource struct {
	file     *os.File
	reader   packetReader
	filename string
	count    int
}

// OpenFile opens a pcap or pcapng capture file. The format is detected from
// the file header.
func OpenFile(filename string) (*FileSource, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}

	reader, err := newPacketReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture file %s: %w", filename, err)
	}

	return &FileSource{
		file:     file,
		reader:   reader,
		filename: filename,
	}, nil
}

func newPacketReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, err
	}
	if bytes.Equal(magic, pcapngMagic) {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// NextFrame returns the next frame in the file, or io.EOF at the end.
func (s *FileSource) NextFrame() (Frame, error) {
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	s.count++
	return NewFrame(data, ci, s.reader.LinkType()), nil
}

// LinkType returns the link type recorded in the file header.
func (s *FileSource) LinkType() layers.LinkType {
	return s.reader.LinkType()
}

// Count returns the number of frames read so far.
func (s *FileSource) Count() int {
	return s.count
}

// Filename returns the path the source was opened from.
func (s *FileSource) Filename() string {
	return s.filename
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	return s.file.Close()
}
