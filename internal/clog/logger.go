package clog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes leveled lines to an optional file writer and, outside
// daemon mode, mirrors warnings and errors to stderr.
type Logger struct {
	mu         sync.Mutex
	level      Level
	fileWriter io.Writer
	errWriter  io.Writer
	daemonMode bool
	now        func() time.Time
}

// NewLogger returns a logger at Info level writing to stderr only.
func NewLogger() *Logger {
	return &Logger{
		level:     LevelInfo,
		errWriter: os.Stderr,
		now:       time.Now,
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Enabled reports whether lines at level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

// SetFileOutput sets the file writer. Pass nil to disable file logging.
func (l *Logger) SetFileOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fileWriter = w
}

// SetErrOutput sets the stderr mirror. Pass nil to disable it.
func (l *Logger) SetErrOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errWriter = w
}

// SetDaemonMode stops mirroring to stderr when daemon is true. The broker
// runs under a service manager that already captures stderr, so lines
// would otherwise appear twice.
func (l *Logger) SetDaemonMode(daemon bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.daemonMode = daemon
}

func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, "", format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, "", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, "", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, "", format, args...) }

// With returns a view of l that prefixes every message with prefix. It is
// used to tag all lines of one broker connection with its session id.
func (l *Logger) With(prefix string) *Scoped {
	return &Scoped{logger: l, prefix: prefix}
}

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if prefix != "" {
		msg = prefix + " " + msg
	}

	if l.fileWriter != nil {
		timestamp := l.now().UTC().Format(time.RFC3339)
		_, _ = fmt.Fprintf(l.fileWriter, "%s [%s] %s\n", timestamp, level, msg)
	}

	if !l.daemonMode && l.errWriter != nil && level >= LevelWarn {
		_, _ = fmt.Fprintf(l.errWriter, "[%s] %s\n", level, msg)
	}
}

// Scoped is a prefixed view of a Logger.
type Scoped struct {
	logger *Logger
	prefix string
}

func (s *Scoped) Debug(format string, args ...any) { s.logger.log(LevelDebug, s.prefix, format, args...) }
func (s *Scoped) Info(format string, args ...any)  { s.logger.log(LevelInfo, s.prefix, format, args...) }
func (s *Scoped) Warn(format string, args ...any)  { s.logger.log(LevelWarn, s.prefix, format, args...) }
func (s *Scoped) Error(format string, args ...any) { s.logger.log(LevelError, s.prefix, format, args...) }

// OpenLogFile opens path for appending, creating parent directories.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// DefaultLogPath returns $XDG_STATE_HOME/nuketown/broker.log, falling back
// to ~/.local/state when XDG_STATE_HOME is unset.
func DefaultLogPath() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, "nuketown", "broker.log")
}
