package session

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/MatteoGuarna/packet-sniffer/internal/logger"
)

// Operator commands, one per line.
const (
	CommandPause  = "p"
	CommandResume = "r"
)

// Commander receives operator commands. Both methods report whether the
// command changed anything.
type Commander interface {
	Pause() bool
	Resume() bool
}

// Listener reads operator commands from a line-oriented stream.
type Listener struct {
	r       *bufio.Reader
	cmd     Commander
	log     *logger.Logger
	backoff time.Duration
}

// NewListener returns a listener that forwards commands read from r.
func NewListener(r io.Reader, cmd Commander, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.Nop()
	}
	return &Listener{
		r:       bufio.NewReader(r),
		cmd:     cmd,
		log:     log,
		backoff: 100 * time.Millisecond,
	}
}

// Start runs the listener in its own goroutine. It is never joined: the
// goroutine lives until the stream ends or the process exits.
func (l *Listener) Start() {
	go l.Run()
}

// Run reads commands until the stream reaches EOF. Read errors are logged
// and reading continues.
func (l *Listener) Run() {
	for {
		line, err := l.r.ReadString('\n')
		if line != "" {
			l.handle(line)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			l.log.Debug("command stream closed")
			return
		}
		l.log.Warn("failed to read command: %v", err)
		time.Sleep(l.backoff)
	}
}

func (l *Listener) handle(line string) {
	switch strings.TrimSpace(line) {
	case CommandPause:
		if l.cmd.Pause() {
			l.log.Info("capture paused")
		} else {
			l.log.Debug("pause ignored: not running")
		}
	case CommandResume:
		if l.cmd.Resume() {
			l.log.Info("capture resumed")
		} else {
			l.log.Debug("resume ignored: not paused")
		}
	}
}
