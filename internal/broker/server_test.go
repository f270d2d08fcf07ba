package broker

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

	"github.com/nuketown/broker/internal/dialog"
)

// shortTempDir creates a short temp directory for socket files. Unix
// socket paths are limited to ~108 bytes and t.TempDir() can exceed that.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "nb")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func roundTrip(t *testing.T, socket, batch string) string {
	t.Helper()
	conn, err := net.DialTimeout("unix", socket, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(waitTimeout))

	if _, err := conn.Write([]byte(batch)); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func TestServer_StartServeStop(t *testing.T) {
	h := newHarness(t, nil)
	h.presenter.auto = func(p *fakeHandle) { p.respond(dialog.AnswerApprove) }

	socket := filepath.Join(shortTempDir(t), "run", "sock")
	srv := NewServer(socket, h.broker, WithSocketMode(0o600), WithDirMode(0o700))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	info, err := os.Stat(socket)
	if err != nil {
		t.Fatalf("socket missing: %v", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		t.Errorf("%s is not a socket", socket)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %04o, want 0600", perm)
	}
	dirInfo, err := os.Stat(filepath.Dir(socket))
	if err != nil {
		t.Fatalf("socket dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("socket dir mode = %04o, want 0700", perm)
	}

	if got := roundTrip(t, socket, "SUDO:root:id\n\n"); got != "APPROVED" {
		t.Errorf("response = %q, want APPROVED", got)
	}
	if got := roundTrip(t, socket, "\n"); got != "ERROR: no valid operations" {
		t.Errorf("response = %q, want parse error", got)
	}

	if err := srv.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Errorf("socket not removed on stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestServer_DefaultModes(t *testing.T) {
	h := newHarness(t, nil)
	socket := filepath.Join(shortTempDir(t), "sock")
	srv := NewServer(socket, h.broker)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Stop()

	info, err := os.Stat(socket)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != DefaultSocketMode {
		t.Errorf("socket mode = %04o, want %04o", perm, DefaultSocketMode)
	}
	if srv.SocketPath() != socket {
		t.Errorf("SocketPath() = %q", srv.SocketPath())
	}
}

func TestServer_StaleSocketRemoved(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "sock")

	// Leave a socket file behind with nobody listening.
	l, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	h := newHarness(t, nil)
	srv := NewServer(socket, h.broker)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() over stale socket error = %v", err)
	}
	srv.Stop()
}

func TestServer_RefusesLiveSocket(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "sock")
	h := newHarness(t, nil)

	first := NewServer(socket, h.broker)
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Stop()

	second := NewServer(socket, h.broker)
	if err := second.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestServer_RefusesNonSocket(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "sock")
	if err := os.WriteFile(socket, []byte("not a socket"), 0o600); err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, nil)
	if err := NewServer(socket, h.broker).Start(); err == nil {
		t.Error("Start() over a regular file should fail")
	}
}

func TestServer_StopAbortsInFlight(t *testing.T) {
	h := newHarness(t, nil)
	socket := filepath.Join(shortTempDir(t), "sock")
	srv := NewServer(socket, h.broker)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := make(chan string, 1)
	go func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			got <- err.Error()
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("SUDO:root:id\n\n"))
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- strings.TrimRight(line, "\n")
	}()

	next(t, h.presenter.shown, "prompt")
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if line := next(t, got, "response"); line != "ERROR: broker shutting down" {
		t.Errorf("response = %q, want shutdown error", line)
	}
}

func TestServer_Serve(t *testing.T) {
	h := newHarness(t, nil)
	h.presenter.auto = func(p *fakeHandle) { p.respond(dialog.AnswerDeny) }
	socket := filepath.Join(shortTempDir(t), "sock")
	srv := NewServer(socket, h.broker)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	deadline := time.Now().Add(waitTimeout)
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := roundTrip(t, socket, "SUDO:root:id\n\n"); got != "DENIED" {
		t.Errorf("response = %q, want DENIED", got)
	}

	cancel()
	if err := next(t, errc, "Serve return"); err != nil {
		t.Errorf("Serve() error = %v", err)
	}
}

func TestPeerCredentials(t *testing.T) {
	socket := filepath.Join(shortTempDir(t), "sock")
	l, err := net.Listen("unix", socket)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer l.Close()

	go func() {
		c, err := net.Dial("unix", socket)
		if err == nil {
			time.Sleep(100 * time.Millisecond)
			c.Close()
		}
	}()
	conn, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	defer conn.Close()

	peer, err := peerCredentials(conn)
	if err != nil {
		t.Skipf("peer credentials unavailable: %v", err)
	}
	if peer.UID != os.Getuid() || peer.PID != os.Getpid() {
		t.Errorf("peer = %+v, want uid=%d pid=%d", peer, os.Getuid(), os.Getpid())
	}
	if !peer.Known || peer.Name == "" {
		t.Errorf("peer = %+v, want a resolved name", peer)
	}
}
