package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects events until the channel closes.
func drain(t *testing.T, events <-chan Event, within time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("event channel still open after %s, got %v", within, got)
			return got
		}
	}
}

func TestClockExpires(t *testing.T) {
	c := NewClock(50 * time.Millisecond)
	defer c.Stop()

	start := time.Now()
	c.Start()
	got := drain(t, c.Events(), 2*time.Second)

	assert.Equal(t, []Event{EventTimeout}, got)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, Expired, c.State())
	assert.Zero(t, c.Remaining())
	assert.False(t, c.Pause(), "expired clock cannot pause")
}

func TestClockPauseDoesNotConsumeCountdown(t *testing.T) {
	const (
		duration = 200 * time.Millisecond
		pause    = 300 * time.Millisecond
	)
	c := NewClock(duration)
	defer c.Stop()

	start := time.Now()
	c.Start()
	time.Sleep(50 * time.Millisecond)

	require.True(t, c.Pause())
	assert.False(t, c.Pause(), "second pause is a no-op")
	assert.Equal(t, Paused, c.State())
	assert.False(t, c.PausedAt().IsZero())

	left := c.Remaining()
	time.Sleep(pause)
	assert.Equal(t, left, c.Remaining(), "paused clock does not count down")
	assert.LessOrEqual(t, left, duration-50*time.Millisecond)

	require.True(t, c.Resume())
	assert.False(t, c.Resume(), "second resume is a no-op")
	assert.Equal(t, Running, c.State())

	got := drain(t, c.Events(), 2*time.Second)
	assert.Equal(t, []Event{EventPause, EventResume, EventTimeout}, got)
	assert.GreaterOrEqual(t, time.Since(start), duration+pause)
}

func TestClockEventsStayOrderedUnderRapidCommands(t *testing.T) {
	c := NewClock(100 * time.Millisecond)
	defer c.Stop()
	c.Start()

	for i := 0; i < 50; i++ {
		c.Pause()
		c.Resume()
	}

	got := drain(t, c.Events(), 2*time.Second)
	require.NotEmpty(t, got)
	assert.Equal(t, EventTimeout, got[len(got)-1])

	paused := false
	for _, ev := range got[:len(got)-1] {
		switch ev {
		case EventPause:
			assert.False(t, paused, "pause without a resume in between: %v", got)
			paused = true
		case EventResume:
			assert.True(t, paused, "resume without a pause: %v", got)
			paused = false
		default:
			t.Fatalf("unexpected event %s before the end: %v", ev, got)
		}
	}
	assert.False(t, paused, "last pause was never resumed: %v", got)
}

func TestClockPausedDuring(t *testing.T) {
	c := NewClock(time.Hour)
	defer c.Stop()
	c.Start()

	before := time.Now()
	time.Sleep(2 * time.Millisecond)
	require.True(t, c.Pause())
	time.Sleep(2 * time.Millisecond)
	during := time.Now()
	time.Sleep(2 * time.Millisecond)
	assert.True(t, c.PausedDuring(time.Now()), "open pause covers now")
	require.True(t, c.Resume())
	time.Sleep(2 * time.Millisecond)
	after := time.Now()

	assert.False(t, c.PausedDuring(before))
	assert.True(t, c.PausedDuring(during))
	assert.False(t, c.PausedDuring(after))

	require.True(t, c.Pause())
	require.True(t, c.Resume())
	assert.True(t, c.PausedDuring(during), "earlier windows are kept")
	assert.False(t, c.PausedDuring(after))
}

func TestClockIgnoresCommandsBeforeStart(t *testing.T) {
	c := NewClock(time.Second)
	defer c.Stop()

	assert.False(t, c.Pause())
	assert.False(t, c.Resume())
	assert.Equal(t, time.Second, c.Remaining())
	assert.Equal(t, time.Second, c.Duration())
}

func TestClockStopClosesEvents(t *testing.T) {
	c := NewClock(time.Hour)
	c.Start()
	require.True(t, c.Pause())

	c.Stop()
	c.Stop()

	drain(t, c.Events(), time.Second)
	assert.Equal(t, Paused, c.State())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "resume", EventResume.String())
	assert.Equal(t, "pause", EventPause.String())
	assert.Equal(t, "timeout", EventTimeout.String())
	assert.Equal(t, "paused", Paused.String())
}
