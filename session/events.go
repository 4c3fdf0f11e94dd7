package session

import "fmt"

// Event is a notification from the clock to the capture loop.
type Event int

const (
	// EventResume follows every EventPause unless the session ends first.
	EventResume Event = iota
	EventPause
	// EventTimeout is always the last event of a session.
	EventTimeout
)

func (e Event) String() string {
	switch e {
	case EventResume:
		return "resume"
	case EventPause:
		return "pause"
	case EventTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// eventQueue is an unbounded FIFO between one producer and one consumer.
// The producer never blocks on a slow consumer.
type eventQueue struct {
	in   chan Event
	out  chan Event
	stop chan struct{}
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		in:   make(chan Event),
		out:  make(chan Event),
		stop: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *eventQueue) pump() {
	defer close(q.out)

	var pending []Event
	in := q.in
	for in != nil || len(pending) > 0 {
		var out chan Event
		var next Event
		if len(pending) > 0 {
			out = q.out
			next = pending[0]
		}

		select {
		case e, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			pending = append(pending, e)
		case out <- next:
			pending = pending[1:]
		case <-q.stop:
			return
		}
	}
}

// push enqueues e. It reports false once the queue has been shut down.
func (q *eventQueue) push(e Event) bool {
	select {
	case q.in <- e:
		return true
	case <-q.stop:
		return false
	}
}

// close marks the end of the stream; queued events are still delivered.
func (q *eventQueue) close() {
	close(q.in)
}

// shutdown discards undelivered events and releases the pump.
func (q *eventQueue) shutdown() {
	close(q.stop)
}
