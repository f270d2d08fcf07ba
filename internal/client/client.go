// Package client submits operation batches to a running broker.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/protocol"
)

// DefaultDialTimeout bounds the connect to the broker socket.
const DefaultDialTimeout = 5 * time.Second

var (
	// ErrUnreachable means no broker answered on the socket. It is never
	// reported as a denial.
	ErrUnreachable = errors.New("broker unreachable")

	// ErrNoResponse means the broker closed the connection without
	// writing an outcome.
	ErrNoResponse = errors.New("broker closed connection without a response")

	// ErrInvalidMock is returned when the mock file holds anything other
	// than a granted or denied token.
	ErrInvalidMock = errors.New("invalid mock response")
)

// Process exit codes for client commands.
const (
	ExitGranted     = 0
	ExitDenied      = 1
	ExitBrokerError = 2
	ExitUnreachable = 3
	ExitInvalidMock = 4
)

// Client talks to the broker socket.
type Client struct {
	Socket string
	// MockFile, when it exists, short-circuits every request with the
	// outcome it names. Empty disables the check.
	MockFile    string
	DialTimeout time.Duration
}

// New creates a Client for socket.
func New(socket, mockFile string) *Client {
	return &Client{Socket: socket, MockFile: mockFile, DialTimeout: DefaultDialTimeout}
}

// Submit sends ops as one batch and returns the broker's outcome.
func (c *Client) Submit(ctx context.Context, ops []protocol.Operation) (protocol.Outcome, error) {
	return c.SubmitBatch(ctx, protocol.FormatBatch(ops))
}

// SubmitBatch sends pre-formatted protocol text. A missing terminating
// empty line is added.
func (c *Client) SubmitBatch(ctx context.Context, batch string) (protocol.Outcome, error) {
	if o, ok, err := c.mock(); err != nil || ok {
		return o, err
	}

	if !strings.HasSuffix(batch, "\n") {
		batch += "\n"
	}
	if !strings.HasSuffix(batch, "\n\n") && batch != "\n" {
		batch += "\n"
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "unix", c.Socket)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer conn.Close()

	// Arbitration can wait on a human for a long time; only ctx bounds it.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := io.WriteString(conn, batch); err != nil {
		if ctx.Err() != nil {
			return protocol.Outcome{}, ctx.Err()
		}
		return protocol.Outcome{}, fmt.Errorf("%w: write: %v", ErrUnreachable, err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if ctx.Err() != nil {
		return protocol.Outcome{}, ctx.Err()
	}
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return protocol.Outcome{}, ErrNoResponse
		}
		return protocol.Outcome{}, fmt.Errorf("read response: %w", err)
	}
	return protocol.ParseOutcome(line)
}

// mock returns the canned outcome when the mock file is present.
func (c *Client) mock() (protocol.Outcome, bool, error) {
	if c.MockFile == "" {
		return protocol.Outcome{}, false, nil
	}
	data, err := os.ReadFile(c.MockFile)
	if errors.Is(err, fs.ErrNotExist) {
		return protocol.Outcome{}, false, nil
	}
	if err != nil {
		return protocol.Outcome{}, false, fmt.Errorf("%w: %v", ErrInvalidMock, err)
	}

	token := strings.TrimSpace(string(data))
	clog.Debug("client: using mock outcome %q from %s", token, c.MockFile)
	switch token {
	case protocol.TokenApproved:
		return protocol.Approved, true, nil
	case protocol.TokenDenied:
		return protocol.Denied, true, nil
	case protocol.TokenDecrypted:
		return protocol.Decrypted, true, nil
	default:
		return protocol.Outcome{}, false, fmt.Errorf("%w: %q in %s", ErrInvalidMock, token, c.MockFile)
	}
}

// ExitCode maps a Submit result to the process exit status.
func ExitCode(o protocol.Outcome, err error) int {
	switch {
	case errors.Is(err, ErrInvalidMock):
		return ExitInvalidMock
	case errors.Is(err, ErrUnreachable):
		return ExitUnreachable
	case err != nil:
		return ExitBrokerError
	}
	switch o.Verdict {
	case protocol.VerdictApproved, protocol.VerdictDecrypted:
		return ExitGranted
	case protocol.VerdictDenied:
		return ExitDenied
	default:
		return ExitBrokerError
	}
}
