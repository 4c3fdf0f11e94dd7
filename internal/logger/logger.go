// Package logger provides the leveled logger shared by the capture session,
// the command listener and the reporters.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the severity of a log message
type Level int

const (
	// Debug level for per-frame detail
	Debug Level = iota
	// Info level for session lifecycle entries
	Info
	// Warn level for recoverable runtime problems
	Warn
	// Error level for failures that need attention
	Error
)

var levelNames = map[Level]string{
	Debug: "debug",
	Info:  "info",
	Warn:  "warn",
	Error: "error",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Config holds logger configuration
type Config struct {
	Level Level
	// File enables rotating file output in addition to the console.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console defaults to stderr; stdout is reserved for reports.
	Console io.Writer
}

// Logger is a leveled printf-style logger
type Logger struct {
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	level       Level
	mu          sync.Mutex
	closer      io.Closer
}

// New creates a logger writing to the console and, when configured, to a
// rotated log file.
func New(cfg Config) (*Logger, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{console}

	var closer io.Closer
	if cfg.File != "" {
		path := filepath.Clean(cfg.File)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		rotated := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, rotated)
		closer = rotated
	}

	l := newLogger(io.MultiWriter(writers...), cfg.Level)
	l.closer = closer
	return l, nil
}

func newLogger(w io.Writer, level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &Logger{
		debugLogger: log.New(w, "DEBUG: ", flags),
		infoLogger:  log.New(w, "INFO: ", flags),
		warnLogger:  log.New(w, "WARN: ", flags),
		errorLogger: log.New(w, "ERROR: ", flags),
		level:       level,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return newLogger(io.Discard, Error+1)
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Level returns the minimum level that is written.
func (l *Logger) Level() Level {
	return l.level
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(Debug, format, v...)
}

// Info logs an info message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(Info, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(Warn, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(Error, format, v...)
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if l == nil || l.level > level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch level {
	case Debug:
		l.debugLogger.Printf(format, v...)
	case Info:
		l.infoLogger.Printf(format, v...)
	case Warn:
		l.warnLogger.Printf(format, v...)
	default:
		l.errorLogger.Printf(format, v...)
	}
}

// ParseLevel converts a string level to Level
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return Debug, nil
	case "info", "":
		return Info, nil
	case "warn", "warning":
		return Warn, nil
	case "error":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown log level: %s", level)
	}
}
