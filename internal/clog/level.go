// Package clog provides leveled operational logging for the broker daemon
// and its client wrappers. User-facing output lives in internal/term.
//
// Log levels:
//   - Debug: per-connection tracing and subprocess stderr, only with --debug
//   - Info: accepted connections and terminal outcomes
//   - Warn: conditions that degrade a request but do not fail it
//   - Error: failures that change an outcome or stop the daemon
//
// Lines always go to the file writer when one is configured. Warn and
// Error are mirrored to stderr unless the logger is in daemon mode.
package clog

import "strings"

// Level is the severity of a log line.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name case-insensitively. Unknown names map to
// LevelInfo; config validation rejects them before they get here.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "err":
		return LevelError
	default:
		return LevelInfo
	}
}
