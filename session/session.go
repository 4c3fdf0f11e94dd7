// Package session runs a capture session: it pulls frames from a capture
// source, folds them into the connection table, and coordinates with the
// countdown clock and operator pause/resume commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MatteoGuarna/packet-sniffer/capture"
	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/decode"
	"github.com/MatteoGuarna/packet-sniffer/internal/logger"
	"github.com/MatteoGuarna/packet-sniffer/stats"
)

// PausePolicy decides what happens to frames the capture source buffered
// while the session was paused.
type PausePolicy string

const (
	// PauseKeep processes buffered frames after resume.
	PauseKeep PausePolicy = "keep"
	// PauseDrop discards frames captured while the clock was paused.
	PauseDrop PausePolicy = "drop"
)

// ParsePausePolicy validates a policy name. Empty means PauseKeep.
func ParsePausePolicy(s string) (PausePolicy, error) {
	switch PausePolicy(s) {
	case "", PauseKeep:
		return PauseKeep, nil
	case PauseDrop:
		return PauseDrop, nil
	default:
		return "", fmt.Errorf("unknown pause policy %q (want keep or drop)", s)
	}
}

// Reason tells why a snapshot was taken.
type Reason string

const (
	ReasonPause Reason = "pause"
	ReasonFinal Reason = "final"
)

// Snapshot is a point-in-time, read-only view of the connection table.
type Snapshot struct {
	SessionID   string              `json:"session_id"`
	Device      string              `json:"device,omitempty"`
	Reason      Reason              `json:"reason"`
	TakenAt     time.Time           `json:"taken_at"`
	Remaining   time.Duration       `json:"remaining_ns"`
	Connections []connection.Record `json:"connections"`
	Counters    stats.Counters      `json:"counters"`
}

// Source yields raw frames. NextFrame returns capture.ErrPollTimeout when
// no frame arrived within its poll window and io.EOF when exhausted.
type Source interface {
	NextFrame() (capture.Frame, error)
}

// Decoder turns a frame into a transport tuple.
type Decoder interface {
	Decode(f capture.Frame) (decode.Tuple, error)
}

// Reporter renders snapshots. It is called on every pause and once at the
// end of the session.
type Reporter interface {
	Render(ctx context.Context, snap Snapshot) error
}

// FrameRecorder stores raw frames processed by the session.
type FrameRecorder interface {
	WriteFrame(f capture.Frame) error
}

// Config holds the per-session settings.
type Config struct {
	Duration    time.Duration
	PausePolicy PausePolicy
	// ID defaults to a random UUID.
	ID     string
	Device string
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// WithRecorder records every frame the session processes.
func WithRecorder(r FrameRecorder) Option {
	return func(s *Session) {
		s.recorder = r
	}
}

const sourceErrorBackoff = 100 * time.Millisecond

// Session is one run of the capture loop from start to expiry.
type Session struct {
	cfg      Config
	source   Source
	decoder  Decoder
	reporter Reporter
	recorder FrameRecorder
	log      *logger.Logger

	clock *Clock
	table *connection.Table

	mu       sync.Mutex
	counters stats.Counters
}

// New validates cfg and prepares a session. The clock does not start
// until Run.
func New(cfg Config, src Source, dec Decoder, rep Reporter, opts ...Option) (*Session, error) {
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("session duration must be positive, got %s", cfg.Duration)
	}
	policy, err := ParsePausePolicy(string(cfg.PausePolicy))
	if err != nil {
		return nil, err
	}
	cfg.PausePolicy = policy
	if src == nil || dec == nil || rep == nil {
		return nil, errors.New("session needs a source, a decoder and a reporter")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	s := &Session{
		cfg:      cfg,
		source:   src,
		decoder:  dec,
		reporter: rep,
		log:      logger.Nop(),
		clock:    NewClock(cfg.Duration),
		table:    connection.NewTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	return s, nil
}

// ID returns the session identifier stamped on every snapshot.
func (s *Session) ID() string {
	return s.cfg.ID
}

// Clock returns the session clock, which is also the Commander for the
// operator listener.
func (s *Session) Clock() *Clock {
	return s.clock
}

// Counters returns a copy of the frame counters.
func (s *Session) Counters() stats.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Run drives the session until the countdown expires or ctx is done, then
// renders the final snapshot. Per-frame and reporter failures are logged
// and never end the session.
func (s *Session) Run(ctx context.Context) error {
	s.clock.Start()
	defer s.clock.Stop()

	s.log.Info("session %s started: device=%s duration=%s pause_policy=%s",
		s.cfg.ID, s.cfg.Device, s.cfg.Duration, s.cfg.PausePolicy)

	events := s.clock.Events()
	exhausted := false

	for {
		if exhausted {
			// Nothing left to read: wait for the countdown, pause and resume
			// still apply.
			select {
			case <-ctx.Done():
				return s.finish(ctx)
			case ev, ok := <-events:
				if !s.handleEvent(ctx, events, ev, ok) {
					return s.finish(ctx)
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			return s.finish(ctx)
		case ev, ok := <-events:
			if !s.handleEvent(ctx, events, ev, ok) {
				return s.finish(ctx)
			}
			continue
		default:
		}

		frame, err := s.source.NextFrame()
		switch {
		case err == nil:
			s.process(frame)
		case errors.Is(err, capture.ErrPollTimeout):
		case errors.Is(err, io.EOF):
			s.log.Info("capture source exhausted, waiting for the countdown (%s left)", s.clock.Remaining())
			exhausted = true
		default:
			s.count(func(c *stats.Counters) { c.SourceErrors++ })
			s.log.Warn("failed to read frame: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(sourceErrorBackoff):
			}
		}
	}
}

// handleEvent reacts to one clock event and reports whether the session
// continues. A pause renders a snapshot and blocks until resume.
func (s *Session) handleEvent(ctx context.Context, events <-chan Event, ev Event, ok bool) bool {
	if !ok {
		return false
	}
	switch ev {
	case EventTimeout:
		s.log.Info("session %s countdown expired", s.cfg.ID)
		return false
	case EventResume:
		return true
	case EventPause:
	default:
		return true
	}

	s.log.Info("session %s paused (%s left)", s.cfg.ID, s.clock.Remaining())
	s.render(ctx, ReasonPause)

	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok || ev == EventTimeout {
				return false
			}
			if ev == EventResume {
				s.log.Info("session %s resumed", s.cfg.ID)
				return true
			}
		}
	}
}

func (s *Session) process(f capture.Frame) {
	drop := s.cfg.PausePolicy == PauseDrop && s.clock.PausedDuring(f.Timestamp)
	s.mu.Lock()
	s.counters.Frames++
	if drop {
		s.counters.DroppedPaused++
	}
	s.mu.Unlock()
	if drop {
		return
	}

	if s.recorder != nil {
		if err := s.recorder.WriteFrame(f); err != nil {
			s.log.Warn("failed to record frame: %v", err)
		}
	}

	tuple, err := s.decoder.Decode(f)
	if err != nil {
		s.count(func(c *stats.Counters) {
			switch {
			case errors.Is(err, decode.ErrNoNetworkLayer):
				c.NoNetwork++
			case errors.Is(err, decode.ErrUnsupportedTransport):
				c.Unsupported++
			default:
				c.Malformed++
			}
		})
		s.log.Debug("frame skipped: %v", err)
		return
	}

	s.count(func(c *stats.Counters) {
		c.Decoded++
		c.Bytes += uint64(tuple.Length)
	})
	s.table.Upsert(tuple.Record())
}

func (s *Session) count(fn func(c *stats.Counters)) {
	s.mu.Lock()
	fn(&s.counters)
	s.mu.Unlock()
}

func (s *Session) snapshot(reason Reason) Snapshot {
	return Snapshot{
		SessionID:   s.cfg.ID,
		Device:      s.cfg.Device,
		Reason:      reason,
		TakenAt:     time.Now(),
		Remaining:   s.clock.Remaining(),
		Connections: s.table.Snapshot(),
		Counters:    s.Counters(),
	}
}

func (s *Session) render(ctx context.Context, reason Reason) {
	snap := s.snapshot(reason)
	if err := s.reporter.Render(ctx, snap); err != nil {
		s.log.Error("failed to render %s snapshot: %v", reason, err)
	}
}

func (s *Session) finish(ctx context.Context) error {
	if ctx.Err() != nil {
		s.log.Info("session %s interrupted", s.cfg.ID)
	}
	// The final snapshot is rendered even when ctx was cancelled.
	s.render(context.WithoutCancel(ctx), ReasonFinal)
	c := s.Counters()
	s.log.Info("session %s finished: %d connections, %s", s.cfg.ID, s.table.Len(), c)
	return nil
}
