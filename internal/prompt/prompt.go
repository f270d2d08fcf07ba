// Package prompt reads answers and secrets from the operator's terminal
// for CLI commands. Tests swap in the Mock implementations.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrEmptyCredential is returned when the operator enters nothing.
var ErrEmptyCredential = errors.New("empty credential")

// CredentialReader reads a secret without echoing it.
type CredentialReader interface {
	ReadCredential(prompt string) (string, error)
}

// TerminalCredentialReader reads from a terminal with echo disabled. When
// In is not a terminal (a pipe or file), it reads one line instead, so the
// secret can be supplied non-interactively.
type TerminalCredentialReader struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalCredentialReader creates a TerminalCredentialReader.
func NewTerminalCredentialReader(in *os.File, out io.Writer) *TerminalCredentialReader {
	return &TerminalCredentialReader{In: in, Out: out}
}

// ReadCredential implements CredentialReader.
func (r *TerminalCredentialReader) ReadCredential(prompt string) (string, error) {
	fd := int(r.In.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(r.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read credential: %w", err)
		}
		return nonEmpty(strings.TrimRight(line, "\r\n"))
	}

	_, _ = fmt.Fprint(r.Out, prompt)
	secret, err := term.ReadPassword(fd)
	// ReadPassword swallows the newline.
	_, _ = fmt.Fprintln(r.Out)
	if err != nil {
		return "", fmt.Errorf("failed to read credential: %w", err)
	}
	return nonEmpty(string(secret))
}

func nonEmpty(s string) (string, error) {
	if s == "" {
		return "", ErrEmptyCredential
	}
	return s, nil
}

// Confirmer asks a yes/no question.
type Confirmer interface {
	Confirm(prompt string, defaultYes bool) (bool, error)
}

// StdinConfirmer reads the answer from In.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// NewStdinConfirmer creates a StdinConfirmer.
func NewStdinConfirmer(in io.Reader, out io.Writer) *StdinConfirmer {
	return &StdinConfirmer{In: in, Out: out}
}

// Confirm accepts y/yes and n/no in any case; empty input takes the
// default.
func (c *StdinConfirmer) Confirm(prompt string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	_, _ = fmt.Fprintf(c.Out, "%s %s ", prompt, hint)

	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read input: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		return defaultYes, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid input %q: expected y/n", strings.TrimSpace(line))
	}
}

// MockCredentialReader returns queued credentials and records prompts.
type MockCredentialReader struct {
	Credentials []string
	Err         error
	Calls       []string
}

// NewMockCredentialReader creates a MockCredentialReader.
func NewMockCredentialReader(credentials ...string) *MockCredentialReader {
	return &MockCredentialReader{Credentials: credentials}
}

// ReadCredential implements CredentialReader.
func (m *MockCredentialReader) ReadCredential(prompt string) (string, error) {
	m.Calls = append(m.Calls, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Credentials) == 0 {
		return "", ErrEmptyCredential
	}
	next := m.Credentials[0]
	m.Credentials = m.Credentials[1:]
	return nonEmpty(next)
}

// MockConfirmer returns queued answers, then the default.
type MockConfirmer struct {
	Answers []bool
	Calls   []string
}

// Confirm implements Confirmer.
func (m *MockConfirmer) Confirm(prompt string, defaultYes bool) (bool, error) {
	m.Calls = append(m.Calls, prompt)
	if len(m.Answers) == 0 {
		return defaultYes, nil
	}
	next := m.Answers[0]
	m.Answers = m.Answers[1:]
	return next, nil
}
