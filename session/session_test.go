package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatteoGuarna/packet-sniffer/capture"
	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/decode"
)

const (
	hostA = "192.168.1.10"
	hostB = "93.184.216.34"
	hostC = "8.8.8.8"
)

// buildFrame serializes an Ethernet/IPv4 frame carrying the given
// transport layer. length is the wire length reported by the frame.
func buildFrame(t *testing.T, l4 connection.Transport, src string, sport uint16, dst string, dport uint16, length int) capture.Frame {
	t.Helper()
	ip := &layers.IPv4{
		Version: 4,
		IHL:     5,
		TTL:     64,
		SrcIP:   net.ParseIP(src).To4(),
		DstIP:   net.ParseIP(dst).To4(),
	}
	var transport gopacket.SerializableLayer
	switch l4 {
	case connection.TCP:
		ip.Protocol = layers.IPProtocolTCP
		tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), ACK: true, Window: 512}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		transport = tcp
	default:
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
		transport = udp
	}

	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, transport))

	return capture.Frame{
		Data:      buf.Bytes(),
		Timestamp: time.Now(),
		Length:    length,
		LinkType:  layers.LinkTypeEthernet,
	}
}

// scriptedSource serves frames in order, then returns tail forever.
type scriptedSource struct {
	mu     sync.Mutex
	frames []capture.Frame
	tail   error
}

func (s *scriptedSource) NextFrame() (capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		return f, nil
	}
	if errors.Is(s.tail, capture.ErrPollTimeout) {
		time.Sleep(2 * time.Millisecond)
	}
	return capture.Frame{}, s.tail
}

type recordingReporter struct {
	mu        sync.Mutex
	snapshots []Snapshot
	rendered  chan Reason
	err       error
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{rendered: make(chan Reason, 16)}
}

func (r *recordingReporter) Render(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, snap)
	r.mu.Unlock()
	r.rendered <- snap.Reason
	return r.err
}

func (r *recordingReporter) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snapshots...)
}

func (r *recordingReporter) waitFor(t *testing.T, reason Reason) {
	t.Helper()
	for {
		select {
		case got := <-r.rendered:
			if got == reason {
				return
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no %s snapshot rendered", reason)
		}
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	frames int
}

func (c *countingRecorder) WriteFrame(capture.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	return nil
}

func runSession(t *testing.T, s *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error, within time.Duration) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(within):
		t.Fatalf("session did not finish within %s", within)
	}
}

func threeFrames(t *testing.T) []capture.Frame {
	return []capture.Frame{
		buildFrame(t, connection.TCP, hostA, 5000, hostB, 80, 100),
		buildFrame(t, connection.TCP, hostB, 80, hostA, 5000, 200),
		buildFrame(t, connection.UDP, hostA, 6000, hostC, 53, 50),
	}
}

func assertTwoConnections(t *testing.T, snap Snapshot) {
	t.Helper()
	require.Len(t, snap.Connections, 2)

	tcp := snap.Connections[0]
	assert.Equal(t, connection.TCP, tcp.L4)
	assert.Equal(t, uint64(300), tcp.Bytes)
	assert.Equal(t, hostA, tcp.AddrA)
	assert.Equal(t, "5000", tcp.PortA)

	udp := snap.Connections[1]
	assert.Equal(t, connection.UDP, udp.L4)
	assert.Equal(t, uint64(50), udp.Bytes)
}

func TestNewValidatesConfig(t *testing.T) {
	src := &scriptedSource{tail: io.EOF}
	dec := decode.NewDecoder()
	rep := newRecordingReporter()

	_, err := New(Config{}, src, dec, rep)
	assert.Error(t, err)

	_, err = New(Config{Duration: time.Second, PausePolicy: "hold"}, src, dec, rep)
	assert.Error(t, err)

	_, err = New(Config{Duration: time.Second}, nil, dec, rep)
	assert.Error(t, err)

	s, err := New(Config{Duration: time.Second}, src, dec, rep)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, PauseKeep, s.cfg.PausePolicy)
}

func TestSessionAggregatesBothDirections(t *testing.T) {
	rep := newRecordingReporter()
	rec := &countingRecorder{}
	src := &scriptedSource{frames: threeFrames(t), tail: capture.ErrPollTimeout}

	s, err := New(Config{Duration: 100 * time.Millisecond, ID: "s1", Device: "eth0"},
		src, decode.NewDecoder(), rep, WithRecorder(rec))
	require.NoError(t, err)

	waitDone(t, runSession(t, s), 3*time.Second)

	snaps := rep.Snapshots()
	require.Len(t, snaps, 1)
	final := snaps[0]
	assert.Equal(t, ReasonFinal, final.Reason)
	assert.Equal(t, "s1", final.SessionID)
	assert.Equal(t, "eth0", final.Device)
	assertTwoConnections(t, final)

	assert.Equal(t, uint64(3), final.Counters.Frames)
	assert.Equal(t, uint64(3), final.Counters.Decoded)
	assert.Equal(t, uint64(350), final.Counters.Bytes)
	assert.Equal(t, 3, rec.frames)
	assert.Equal(t, Expired, s.Clock().State())
}

func TestSessionSkipsUndecodableFrames(t *testing.T) {
	good := buildFrame(t, connection.UDP, hostA, 6000, hostC, 53, 80)
	garbage := capture.Frame{Data: []byte{1, 2, 3}, Timestamp: time.Now(), LinkType: layers.LinkTypeEthernet}
	src := &scriptedSource{frames: []capture.Frame{garbage, good}, tail: io.EOF}
	rep := newRecordingReporter()

	s, err := New(Config{Duration: 50 * time.Millisecond}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)
	waitDone(t, runSession(t, s), 3*time.Second)

	c := s.Counters()
	assert.Equal(t, uint64(2), c.Frames)
	assert.Equal(t, uint64(1), c.Decoded)
	assert.Equal(t, uint64(1), c.Malformed)

	final := rep.Snapshots()[0]
	require.Len(t, final.Connections, 1)
	assert.Equal(t, uint64(80), final.Connections[0].Bytes)
}

func TestSessionWaitsForCountdownAfterEOF(t *testing.T) {
	const duration = 150 * time.Millisecond
	src := &scriptedSource{frames: threeFrames(t), tail: io.EOF}
	rep := newRecordingReporter()

	s, err := New(Config{Duration: duration}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	start := time.Now()
	waitDone(t, runSession(t, s), 3*time.Second)

	assert.GreaterOrEqual(t, time.Since(start), duration)
	assertTwoConnections(t, rep.Snapshots()[0])
}

func TestSessionCountsSourceErrors(t *testing.T) {
	src := &scriptedSource{tail: errors.New("interface down")}
	s, err := New(Config{Duration: 150 * time.Millisecond}, src, decode.NewDecoder(), newRecordingReporter())
	require.NoError(t, err)

	waitDone(t, runSession(t, s), 3*time.Second)
	assert.NotZero(t, s.Counters().SourceErrors)
}

func TestSessionPauseRendersSnapshot(t *testing.T) {
	const (
		duration = 200 * time.Millisecond
		pause    = 200 * time.Millisecond
	)
	src := &scriptedSource{frames: threeFrames(t), tail: capture.ErrPollTimeout}
	rep := newRecordingReporter()
	s, err := New(Config{Duration: duration}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	start := time.Now()
	done := runSession(t, s)
	require.Eventually(t, s.Clock().Pause, time.Second, time.Millisecond)

	rep.waitFor(t, ReasonPause)
	time.Sleep(pause)
	require.True(t, s.Clock().Resume())

	waitDone(t, done, 3*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), duration+pause)

	snaps := rep.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, ReasonPause, snaps[0].Reason)
	assert.Equal(t, ReasonFinal, snaps[1].Reason)
	assertTwoConnections(t, snaps[1])
}

// gatedSource reports poll timeouts until released, then serves frames
// built at read time.
type gatedSource struct {
	release chan struct{}
	mu      sync.Mutex
	next    []func() capture.Frame
}

func (g *gatedSource) NextFrame() (capture.Frame, error) {
	select {
	case <-g.release:
	default:
		time.Sleep(2 * time.Millisecond)
		return capture.Frame{}, capture.ErrPollTimeout
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.next) == 0 {
		time.Sleep(2 * time.Millisecond)
		return capture.Frame{}, capture.ErrPollTimeout
	}
	build := g.next[0]
	g.next = g.next[1:]
	return build(), nil
}

func TestSessionPausePolicy(t *testing.T) {
	tests := []struct {
		policy        PausePolicy
		wantDecoded   uint64
		wantDropped   uint64
		wantConnCount int
	}{
		{PauseKeep, 2, 0, 2},
		{PauseDrop, 1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			var pausedStamp time.Time
			buffered := buildFrame(t, connection.TCP, hostA, 5000, hostB, 80, 100)
			fresh := buildFrame(t, connection.UDP, hostA, 6000, hostC, 53, 50)

			src := &gatedSource{
				release: make(chan struct{}),
				next: []func() capture.Frame{
					func() capture.Frame { f := buffered; f.Timestamp = pausedStamp; return f },
					func() capture.Frame { f := fresh; f.Timestamp = time.Now(); return f },
				},
			}
			rep := newRecordingReporter()
			s, err := New(Config{Duration: 300 * time.Millisecond, PausePolicy: tt.policy},
				src, decode.NewDecoder(), rep)
			require.NoError(t, err)

			done := runSession(t, s)
			require.Eventually(t, s.Clock().Pause, time.Second, time.Millisecond)
			rep.waitFor(t, ReasonPause)

			pausedStamp = time.Now()
			time.Sleep(5 * time.Millisecond)
			require.True(t, s.Clock().Resume())
			close(src.release)

			waitDone(t, done, 3*time.Second)

			c := s.Counters()
			assert.Equal(t, uint64(2), c.Frames)
			assert.Equal(t, tt.wantDecoded, c.Decoded)
			assert.Equal(t, tt.wantDropped, c.DroppedPaused)

			snaps := rep.Snapshots()
			assert.Len(t, snaps[len(snaps)-1].Connections, tt.wantConnCount)
		})
	}
}

func TestSessionDropPolicyKeepsFramesCapturedBeforePause(t *testing.T) {
	var runningStamp, resumedStamp time.Time
	queued := buildFrame(t, connection.TCP, hostA, 5000, hostB, 80, 100)
	late := buildFrame(t, connection.UDP, hostA, 6000, hostC, 53, 50)

	src := &gatedSource{
		release: make(chan struct{}),
		next: []func() capture.Frame{
			func() capture.Frame { f := queued; f.Timestamp = runningStamp; return f },
			func() capture.Frame { f := late; f.Timestamp = resumedStamp; return f },
		},
	}
	rep := newRecordingReporter()
	s, err := New(Config{Duration: 300 * time.Millisecond, PausePolicy: PauseDrop},
		src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	done := runSession(t, s)
	require.Eventually(t, func() bool { return s.Clock().State() == Running }, time.Second, time.Millisecond)
	runningStamp = time.Now()
	time.Sleep(20 * time.Millisecond)
	require.True(t, s.Clock().Pause())
	rep.waitFor(t, ReasonPause)

	require.True(t, s.Clock().Resume())
	// Captured after Resume but possibly before the loop sees the event.
	resumedStamp = time.Now()
	close(src.release)

	waitDone(t, done, 3*time.Second)

	c := s.Counters()
	assert.Equal(t, uint64(2), c.Frames)
	assert.Equal(t, uint64(2), c.Decoded)
	assert.Equal(t, uint64(0), c.DroppedPaused)

	snaps := rep.Snapshots()
	assert.Len(t, snaps[len(snaps)-1].Connections, 2)
}

func TestSessionInterruptRendersFinalSnapshot(t *testing.T) {
	src := &scriptedSource{frames: threeFrames(t), tail: capture.ErrPollTimeout}
	rep := newRecordingReporter()
	s, err := New(Config{Duration: time.Hour}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	waitDone(t, done, 3*time.Second)

	snaps := rep.Snapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, ReasonFinal, snaps[0].Reason)
	assertTwoConnections(t, snaps[0])
}

func TestSessionSurvivesReporterErrors(t *testing.T) {
	src := &scriptedSource{tail: io.EOF}
	rep := newRecordingReporter()
	rep.err = errors.New("disk full")

	s, err := New(Config{Duration: 50 * time.Millisecond}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)
	waitDone(t, runSession(t, s), 3*time.Second)
	assert.Len(t, rep.Snapshots(), 1)
}

func TestSessionListenerEndToEnd(t *testing.T) {
	src := &scriptedSource{frames: threeFrames(t), tail: capture.ErrPollTimeout}
	rep := newRecordingReporter()
	s, err := New(Config{Duration: 200 * time.Millisecond}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()
	NewListener(pr, s.Clock(), nil).Start()

	done := runSession(t, s)
	require.Eventually(t, func() bool {
		if _, err := pw.Write([]byte("p\n")); err != nil {
			return false
		}
		return s.Clock().State() == Paused
	}, time.Second, 5*time.Millisecond)

	rep.waitFor(t, ReasonPause)
	_, err = pw.Write([]byte("r\n"))
	require.NoError(t, err)

	waitDone(t, done, 3*time.Second)
	snaps := rep.Snapshots()
	require.Len(t, snaps, 2)
	assertTwoConnections(t, snaps[1])
}

func TestTwoSecondScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time countdown")
	}
	src := &scriptedSource{frames: threeFrames(t), tail: capture.ErrPollTimeout}
	rep := newRecordingReporter()
	s, err := New(Config{Duration: 2 * time.Second}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	start := time.Now()
	waitDone(t, runSession(t, s), 5*time.Second)

	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assertTwoConnections(t, rep.Snapshots()[0])
}

func TestTwoSecondScenarioWithPause(t *testing.T) {
	if testing.Short() {
		t.Skip("real-time countdown")
	}
	src := &scriptedSource{frames: threeFrames(t), tail: capture.ErrPollTimeout}
	rep := newRecordingReporter()
	s, err := New(Config{Duration: 2 * time.Second}, src, decode.NewDecoder(), rep)
	require.NoError(t, err)

	start := time.Now()
	done := runSession(t, s)

	time.Sleep(500 * time.Millisecond)
	require.True(t, s.Clock().Pause())
	time.Sleep(time.Second)
	require.True(t, s.Clock().Resume())

	waitDone(t, done, 5*time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 2500*time.Millisecond)
}
