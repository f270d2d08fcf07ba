package cmd

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nuketown/broker/internal/broker"
	"github.com/nuketown/broker/internal/client"
)

func TestStatus_NotRunning(t *testing.T) {
	isolate(t)
	out, err := execute(t, "status")
	if code := exitCode(t, err); code != client.ExitUnreachable {
		t.Errorf("exit code = %d, want %d", code, client.ExitUnreachable)
	}
	if !strings.Contains(out, "not running") {
		t.Errorf("status output = %q", out)
	}
}

func TestStatus_RunningButSocketDead(t *testing.T) {
	isolate(t)
	socket := shortTempDir(t) + "/sock"
	if err := broker.SaveState(&broker.DaemonState{PID: os.Getpid(), Socket: socket, StartedAt: time.Now(), Version: "v9"}); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "status")
	if code := exitCode(t, err); code != client.ExitUnreachable {
		t.Errorf("exit code = %d, want %d", code, client.ExitUnreachable)
	}
	for _, want := range []string{"broker is running", socket, "v9", "not accepting connections"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q\nGot: %s", want, out)
		}
	}
}

func TestStop_NotRunningCleansStaleState(t *testing.T) {
	isolate(t)
	if err := broker.SaveState(&broker.DaemonState{PID: 1 << 30, Socket: "/nonexistent"}); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "stop")
	if err != nil {
		t.Fatalf("stop returned error: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Errorf("stop output = %q", out)
	}
	if _, err := os.Stat(broker.StatePath()); !os.IsNotExist(err) {
		t.Error("stale state file should be removed")
	}
}
