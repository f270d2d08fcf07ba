package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nuketown/broker/internal/broker"
	"github.com/nuketown/broker/internal/client"
	"github.com/nuketown/broker/internal/config"
	"github.com/nuketown/broker/internal/protocol"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Broker.Socket = filepath.Join(shortTempDir(t), "run", "sock")
	cfg.Broker.TempDir = t.TempDir()
	cfg.Log.File = ""
	return cfg
}

func TestDaemon_RunServesAndCleansUp(t *testing.T) {
	isolate(t)
	cfg := testConfig(t)

	d, err := newDaemon(cfg)
	if err != nil {
		t.Fatalf("newDaemon() error = %v", err)
	}
	if d.session != nil {
		t.Error("notify disabled, but a remote session was created")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- d.run(ctx) }()

	waitFor(t, func() bool {
		_, err := os.Stat(cfg.Broker.Socket)
		return err == nil
	})

	c := client.New(cfg.Broker.Socket, "")
	got, err := c.SubmitBatch(context.Background(), "\n")
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}
	if got != protocol.Failure("no valid operations") {
		t.Errorf("outcome = %v, want no valid operations", got)
	}

	state, err := broker.LoadState()
	if err != nil || state == nil {
		t.Fatalf("LoadState() = %v, %v", state, err)
	}
	if state.PID != os.Getpid() || state.Socket != cfg.Broker.Socket {
		t.Errorf("state = %+v", state)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, err := os.Stat(cfg.Broker.Socket); !os.IsNotExist(err) {
		t.Error("socket not removed")
	}
	if state, _ := broker.LoadState(); state != nil {
		t.Error("state file not removed")
	}
}

func TestNewDaemon_NotifyRequiresPassword(t *testing.T) {
	isolate(t)
	cfg := testConfig(t)
	cfg.Notify.Enabled = true
	cfg.Notify.URL = "wss://chat.example.org/xmpp-websocket"
	cfg.Notify.JID = "broker@example.org"
	cfg.Notify.Approver = "human@example.org"
	cfg.Notify.PasswordFile = filepath.Join(t.TempDir(), "missing")

	if _, err := newDaemon(cfg); err == nil || !strings.Contains(err.Error(), "password_file") {
		t.Errorf("newDaemon() error = %v, want password_file error", err)
	}

	if err := os.WriteFile(cfg.Notify.PasswordFile, []byte("pw\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := newDaemon(cfg)
	if err != nil {
		t.Fatalf("newDaemon() error = %v", err)
	}
	if d.session == nil {
		t.Error("notify enabled, but no remote session was created")
	}
}

func TestReadPasswordFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"first line", "hunter2\nsecond\n", "hunter2", false},
		{"crlf", "hunter2\r\n", "hunter2", false},
		{"no newline", "hunter2", "hunter2", false},
		{"empty", "\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "-"))
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			got, err := readPasswordFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readPasswordFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readPasswordFile() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServeMetrics_BadAddress(t *testing.T) {
	if err := serveMetrics(context.Background(), "127.0.0.1:-1", nil); err == nil {
		t.Error("serveMetrics() with an invalid address should fail")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
