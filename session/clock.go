package session

import (
	"sync"
	"time"
)

// State is the clock's position in its Running/Paused/Expired lifecycle.
type State int

const (
	Running State = iota
	Paused
	Expired
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "expired"
	}
}

// Clock counts down the session duration. Paused intervals do not consume
// the countdown. Transitions are published on Events in the order they are
// observed by the timer goroutine.
type Clock struct {
	mu            sync.Mutex
	duration      time.Duration
	remaining     time.Duration
	intervalStart time.Time
	pausedAt      time.Time
	paused        bool
	expired       bool
	started       bool
	// pauses counts Running->Paused transitions so the timer can tell a
	// pause it never saw from no pause at all.
	pauses uint64
	// windows holds every pause interval; the last one is open while paused.
	windows []pauseWindow
	// changed is closed and replaced on every transition.
	changed chan struct{}

	events   *eventQueue
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// pauseWindow is the half-open interval [start, end) of one pause. A zero
// end means the pause is still in progress.
type pauseWindow struct {
	start, end time.Time
}

// NewClock returns a stopped clock for a countdown of d.
func NewClock(d time.Duration) *Clock {
	return &Clock{
		duration:  d,
		remaining: d,
		changed:   make(chan struct{}),
		events:    newEventQueue(),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start begins the countdown and the timer goroutine. Calling it again
// has no effect.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.intervalStart = time.Now()
	go c.run()
}

// Pause moves a running clock to Paused and reports whether it did.
// Pausing a paused, expired or unstarted clock is a no-op.
func (c *Clock) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.paused || c.expired {
		return false
	}
	now := time.Now()
	c.paused = true
	c.pausedAt = now
	c.remaining -= now.Sub(c.intervalStart)
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.pauses++
	c.windows = append(c.windows, pauseWindow{start: now})
	c.broadcast()
	return true
}

// Resume moves a paused clock back to Running and reports whether it did.
func (c *Clock) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused || c.expired {
		return false
	}
	now := time.Now()
	c.paused = false
	c.intervalStart = now
	c.windows[len(c.windows)-1].end = now
	c.broadcast()
	return true
}

// State returns the current state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.expired:
		return Expired
	case c.paused:
		return Paused
	default:
		return Running
	}
}

// Remaining returns the countdown time left.
func (c *Clock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked(time.Now())
}

// PausedAt returns when the current pause began, or the zero time.
func (c *Clock) PausedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return time.Time{}
	}
	return c.pausedAt
}

// PausedDuring reports whether ts falls inside a pause, either a finished
// one or the one in progress.
func (c *Clock) PausedDuring(ts time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.windows) - 1; i >= 0; i-- {
		w := c.windows[i]
		if ts.Before(w.start) {
			continue
		}
		return w.end.IsZero() || ts.Before(w.end)
	}
	return false
}

// Duration returns the configured countdown.
func (c *Clock) Duration() time.Duration {
	return c.duration
}

// Events returns the channel of clock transitions. It is closed after
// EventTimeout or when the clock is stopped.
func (c *Clock) Events() <-chan Event {
	return c.events.out
}

// Stop ends the timer goroutine without emitting further events.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			<-c.done
		}
		c.events.shutdown()
	})
}

func (c *Clock) remainingLocked(now time.Time) time.Duration {
	if !c.started || c.paused || c.expired {
		return c.remaining
	}
	left := c.remaining - now.Sub(c.intervalStart)
	if left < 0 {
		return 0
	}
	return left
}

func (c *Clock) broadcast() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// run is the timer goroutine. It reconciles what it has announced with
// the shared state after every change, and expires the clock once a
// running interval reaches the end of the remaining countdown.
func (c *Clock) run() {
	defer close(c.done)

	var (
		announcedPaused bool
		seenPauses      uint64
	)
	for {
		c.mu.Lock()
		changed := c.changed

		switch {
		case c.paused && !announcedPaused:
			seenPauses = c.pauses
			c.mu.Unlock()
			if !c.emit(EventPause) {
				return
			}
			announcedPaused = true
			continue

		case !c.paused && announcedPaused:
			seenPauses = c.pauses
			c.mu.Unlock()
			if !c.emit(EventResume) {
				return
			}
			announcedPaused = false
			continue

		case c.pauses != seenPauses:
			// A whole pause/resume pair happened between two wakeups.
			seenPauses = c.pauses
			c.mu.Unlock()
			first, second := EventPause, EventResume
			if announcedPaused {
				first, second = EventResume, EventPause
			}
			if !c.emit(first) || !c.emit(second) {
				return
			}
			continue

		case c.paused:
			c.mu.Unlock()
			select {
			case <-changed:
			case <-c.quit:
				return
			}
			continue
		}

		now := time.Now()
		wait := c.remainingLocked(now)
		if wait <= 0 {
			c.remaining = 0
			c.expired = true
			c.broadcast()
			c.mu.Unlock()
			if c.emit(EventTimeout) {
				c.events.close()
			}
			return
		}
		c.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-changed:
		case <-c.quit:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

func (c *Clock) emit(e Event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	return c.events.push(e)
}
