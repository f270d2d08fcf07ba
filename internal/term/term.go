// Package term provides user-facing terminal output for the broker's client
// commands. Operational logging lives in internal/clog.
//
//   - Print/Printf/Println: normal output to stdout (suppressed with --quiet)
//   - Approved/Refused: one-line verdicts for a broker outcome, colorized
//     when stdout is a terminal (suppressed with --quiet)
//   - Warn/Error: stderr, never suppressed
package term

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	xterm "golang.org/x/term"
)

var (
	mu     sync.Mutex
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	silent bool
	colors = isTerminal(os.Stdout)
)

func isTerminal(f *os.File) bool {
	return xterm.IsTerminal(int(f.Fd()))
}

// SetSilent suppresses Print* and verdict output. Warn and Error still print.
func SetSilent(s bool) {
	mu.Lock()
	defer mu.Unlock()
	silent = s
}

func IsSilent() bool {
	mu.Lock()
	defer mu.Unlock()
	return silent
}

// SetColor forces colorized verdicts on or off.
func SetColor(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	colors = enabled
}

// SetOutput sets the stdout writer; nil restores os.Stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	stdout = w
}

// SetErrOutput sets the stderr writer; nil restores os.Stderr.
func SetErrOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	stderr = w
}

func Print(a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if silent {
		return
	}
	_, _ = fmt.Fprint(stdout, a...)
}

func Printf(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if silent {
		return
	}
	_, _ = fmt.Fprintf(stdout, format, a...)
}

func Println(a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if silent {
		return
	}
	_, _ = fmt.Fprintln(stdout, a...)
}

// Approved prints a success verdict line (green when colorized).
func Approved(format string, a ...any) {
	verdict(color.FgGreen, format, a...)
}

// Refused prints a failure verdict line (red when colorized).
func Refused(format string, a ...any) {
	verdict(color.FgRed, format, a...)
}

func verdict(fg color.Attribute, format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	if silent {
		return
	}
	msg := fmt.Sprintf(format, a...)
	if colors {
		c := color.New(fg, color.Bold)
		c.EnableColor()
		msg = c.Sprint(msg)
	}
	_, _ = fmt.Fprintln(stdout, msg)
}

// Warn writes "Warning: ..." to stderr.
func Warn(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	_, _ = fmt.Fprintf(stderr, "Warning: %s\n", fmt.Sprintf(format, a...))
}

// Error writes "Error: ..." to stderr.
func Error(format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	_, _ = fmt.Fprintf(stderr, "Error: %s\n", fmt.Sprintf(format, a...))
}

// Stdout returns the current stdout writer, or io.Discard when silent.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	if silent {
		return io.Discard
	}
	return stdout
}

func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return stderr
}

// Reset restores defaults. Tests call it in defer.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	stdout = os.Stdout
	stderr = os.Stderr
	silent = false
	colors = isTerminal(os.Stdout)
}

// Discard drops all output.
func Discard() {
	mu.Lock()
	defer mu.Unlock()
	stdout = io.Discard
	stderr = io.Discard
}
