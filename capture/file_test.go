package capture

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePcap(t *testing.T, path string, frames [][]byte, start time.Time) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data) + 4,
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
}

func TestFileSourceReadsPcap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.pcap")
	start := time.Unix(1700000000, 0).UTC()
	writePcap(t, path, [][]byte{{1, 2, 3}, {4, 5, 6, 7}}, start)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, layers.LinkTypeEthernet, src.LinkType())

	f1, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f1.Data)
	assert.Equal(t, 7, f1.Length)
	assert.True(t, f1.Timestamp.Equal(start))
	assert.Equal(t, layers.LinkTypeEthernet, f1.LinkType)

	f2, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6, 7}, f2.Data)

	_, err = src.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 2, src.Count())
}

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.pcap"))
	assert.Error(t, err)
}

func TestRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.pcapng")
	rec, err := NewRecorder(path, layers.LinkTypeEthernet, 65536)
	require.NoError(t, err)

	ts := time.Unix(1700000000, 0).UTC()
	require.NoError(t, rec.WriteFrame(Frame{Data: []byte{9, 9, 9}, Timestamp: ts, Length: 3}))
	require.NoError(t, rec.WriteFrame(Frame{Data: nil, Timestamp: ts}))
	assert.Equal(t, 1, rec.Count())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "second close is a no-op")
	assert.Error(t, rec.WriteFrame(Frame{Data: []byte{1}}))

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	f, err := src.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9}, f.Data)
	assert.True(t, f.Timestamp.Equal(ts))

	_, err = src.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestFormatPort(t *testing.T) {
	tests := []struct {
		port string
		want string
	}{
		{"443", "443(https)"},
		{"53", "53(domain)"},
		{"49152", "49152"},
		{"", ""},
		{"notaport", "notaport"},
	}
	for _, tt := range tests {
		t.Run(tt.port, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPort(tt.port))
		})
	}
}

func TestServicePortsSorted(t *testing.T) {
	ports := ServicePorts()
	require.NotEmpty(t, ports)
	for i := 1; i < len(ports); i++ {
		assert.Less(t, ports[i-1], ports[i])
	}
	for _, p := range ports {
		assert.NotEmpty(t, ServiceName(strconv.Itoa(int(p))))
	}
}
