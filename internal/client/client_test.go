package client

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nuketown/broker/internal/protocol"
)

// shortTempDir keeps socket paths under the unix socket length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "nc")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// fakeBroker accepts one connection, records the batch and answers reply.
func fakeBroker(t *testing.T, reply string) (socket string, batches <-chan string) {
	t.Helper()
	socket = filepath.Join(shortTempDir(t), "sock")
	l, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { l.Close() })

	got := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		var b strings.Builder
		for {
			line, err := r.ReadString('\n')
			b.WriteString(line)
			if err != nil || line == "\n" {
				break
			}
		}
		got <- b.String()
		if reply != "" {
			_, _ = conn.Write([]byte(reply))
		}
	}()
	return socket, got
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  protocol.Outcome
		code  int
	}{
		{"approved", "APPROVED\n", protocol.Approved, ExitGranted},
		{"decrypted", "DECRYPTED\n", protocol.Decrypted, ExitGranted},
		{"denied", "DENIED\n", protocol.Denied, ExitDenied},
		{"error", "ERROR: no valid operations\n", protocol.Failure("no valid operations"), ExitBrokerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			socket, batches := fakeBroker(t, tt.reply)
			c := New(socket, "")

			ops := []protocol.Operation{
				{Kind: protocol.KindDecrypt, Src: "/s.gpg", Dest: "/tmp/out"},
				{Kind: protocol.KindSudo, User: "root", Command: "echo a:b"},
			}
			got, err := c.Submit(context.Background(), ops)
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Submit() = %+v, want %+v", got, tt.want)
			}
			if code := ExitCode(got, err); code != tt.code {
				t.Errorf("ExitCode() = %d, want %d", code, tt.code)
			}

			batch := <-batches
			if batch != "DECRYPT:/s.gpg:/tmp/out\nSUDO:root:echo a:b\n\n" {
				t.Errorf("batch = %q", batch)
			}
		})
	}
}

func TestSubmitBatch_AddsTerminator(t *testing.T) {
	socket, batches := fakeBroker(t, "APPROVED\n")
	c := New(socket, "")
	if _, err := c.SubmitBatch(context.Background(), "SUDO:root:id"); err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if got := <-batches; got != "SUDO:root:id\n\n" {
		t.Errorf("batch = %q", got)
	}
}

func TestSubmit_Unreachable(t *testing.T) {
	c := New(filepath.Join(shortTempDir(t), "missing.sock"), "")
	o, err := c.Submit(context.Background(), []protocol.Operation{{Kind: protocol.KindSudo, User: "root", Command: "id"}})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Submit() error = %v, want ErrUnreachable", err)
	}
	if code := ExitCode(o, err); code != ExitUnreachable {
		t.Errorf("ExitCode() = %d, want %d", code, ExitUnreachable)
	}
}

func TestSubmit_NoResponse(t *testing.T) {
	socket, _ := fakeBroker(t, "")
	c := New(socket, "")
	o, err := c.SubmitBatch(context.Background(), "SUDO:root:id\n\n")
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("SubmitBatch() error = %v, want ErrNoResponse", err)
	}
	if code := ExitCode(o, err); code != ExitBrokerError {
		t.Errorf("ExitCode() = %d, want %d", code, ExitBrokerError)
	}
}

func TestSubmit_BadResponse(t *testing.T) {
	socket, _ := fakeBroker(t, "MAYBE\n")
	c := New(socket, "")
	_, err := c.SubmitBatch(context.Background(), "SUDO:root:id\n\n")
	if !errors.Is(err, protocol.ErrBadResponse) {
		t.Errorf("SubmitBatch() error = %v, want ErrBadResponse", err)
	}
}

func TestSubmit_ContextCancel(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "sock")
	l, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			// Never answer.
			time.Sleep(2 * time.Second)
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = New(socket, "").SubmitBatch(ctx, "SUDO:root:id\n\n")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SubmitBatch() error = %v, want deadline exceeded", err)
	}
}

func TestMock(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    protocol.Outcome
		wantErr error
		code    int
	}{
		{"approved", "APPROVED\n", protocol.Approved, nil, ExitGranted},
		{"denied", "  DENIED  ", protocol.Denied, nil, ExitDenied},
		{"decrypted", "DECRYPTED", protocol.Decrypted, nil, ExitGranted},
		{"invalid", "sure, why not", protocol.Outcome{}, ErrInvalidMock, ExitInvalidMock},
		{"error token is not a mock", "ERROR: x", protocol.Outcome{}, ErrInvalidMock, ExitInvalidMock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := filepath.Join(t.TempDir(), "mock")
			if err := os.WriteFile(mock, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			// The socket does not exist; a mock must never dial.
			c := New(filepath.Join(t.TempDir(), "none.sock"), mock)

			got, err := c.Submit(context.Background(), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Submit() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Submit() = %+v, want %+v", got, tt.want)
			}
			if code := ExitCode(got, err); code != tt.code {
				t.Errorf("ExitCode() = %d, want %d", code, tt.code)
			}
		})
	}
}

func TestMock_MissingFileDialsBroker(t *testing.T) {
	socket, _ := fakeBroker(t, "DENIED\n")
	c := New(socket, filepath.Join(t.TempDir(), "absent"))
	got, err := c.SubmitBatch(context.Background(), "SUDO:root:id\n\n")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if got != protocol.Denied {
		t.Errorf("SubmitBatch() = %+v, want DENIED", got)
	}
}
