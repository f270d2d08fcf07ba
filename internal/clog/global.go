package clog

import (
	"bytes"
	"io"
	"sync"
)

// std is the process logger used by the package-level functions.
var std = NewLogger()

// Configure sets up the process logger. An empty logPath disables file
// logging; daemonMode stops the stderr mirror.
func Configure(logPath string, level Level, daemonMode bool) error {
	std.SetLevel(level)
	std.SetDaemonMode(daemonMode)

	if logPath != "" {
		f, err := OpenLogFile(logPath)
		if err != nil {
			return err
		}
		std.SetFileOutput(f)
	}
	return nil
}

func SetLevel(level Level)       { std.SetLevel(level) }
func SetFileOutput(w io.Writer)  { std.SetFileOutput(w) }
func SetErrOutput(w io.Writer)   { std.SetErrOutput(w) }
func SetDaemonMode(daemon bool)  { std.SetDaemonMode(daemon) }
func Enabled(level Level) bool   { return std.Enabled(level) }
func With(prefix string) *Scoped { return std.With(prefix) }

func Debug(format string, args ...any) { std.Debug(format, args...) }
func Info(format string, args ...any)  { std.Info(format, args...) }
func Warn(format string, args ...any)  { std.Warn(format, args...) }
func Error(format string, args ...any) { std.Error(format, args...) }

// Close closes the file writer if it is closable.
func Close() error {
	std.mu.Lock()
	defer std.mu.Unlock()

	if closer, ok := std.fileWriter.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Reset restores the default logger. Tests use it in defer.
func Reset() {
	std = NewLogger()
}

// Discard silences all output.
func Discard() {
	std.SetFileOutput(io.Discard)
	std.SetErrOutput(io.Discard)
}

// TestLogger returns a debug-level logger writing everything to w.
func TestLogger(w io.Writer) *Logger {
	l := NewLogger()
	l.SetFileOutput(w)
	l.SetErrOutput(nil)
	l.SetLevel(LevelDebug)
	return l
}

// ReplaceGlobal swaps the process logger and returns the previous one.
func ReplaceGlobal(l *Logger) *Logger {
	old := std
	std = l
	return old
}

// Writer returns an io.Writer that logs each complete line it receives at
// level, prefixed with prefix. Child process stderr (gpg, zenity) is wired
// through it so pinentry and smartcard diagnostics end up in the log.
func Writer(level Level, prefix string) io.Writer {
	return &lineWriter{level: level, prefix: prefix}
}

type lineWriter struct {
	mu     sync.Mutex
	level  Level
	prefix string
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:i], "\r"))
		w.buf = w.buf[i+1:]
		if line == "" {
			continue
		}
		std.log(w.level, w.prefix, "%s", line)
	}
	return len(p), nil
}
