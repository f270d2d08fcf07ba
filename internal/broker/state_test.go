package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDaemonState_SaveLoadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.json")
	t.Setenv(StatePathEnvVar, path)

	if got, err := LoadState(); err != nil || got != nil {
		t.Fatalf("LoadState() on missing file = %v, %v; want nil, nil", got, err)
	}

	want := &DaemonState{
		PID:       os.Getpid(),
		Socket:    "/run/nuketown-broker/sock",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Version:   "v1.2.3",
	}
	if err := SaveState(want); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("state mode = %04o, want 0600", perm)
	}

	got, err := LoadState()
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got.PID != want.PID || got.Socket != want.Socket || !got.StartedAt.Equal(want.StartedAt) || got.Version != want.Version {
		t.Errorf("LoadState() = %+v, want %+v", got, want)
	}

	if err := RemoveState(); err != nil {
		t.Fatalf("RemoveState() error = %v", err)
	}
	if err := RemoveState(); err != nil {
		t.Errorf("RemoveState() on missing file error = %v", err)
	}
}

func TestDaemonState_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	t.Setenv(StatePathEnvVar, path)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadState(); err == nil {
		t.Error("LoadState() on corrupt file should fail")
	}
}

func TestIsRunning(t *testing.T) {
	tests := []struct {
		name  string
		state *DaemonState
		want  bool
	}{
		{"nil state", nil, false},
		{"zero pid", &DaemonState{}, false},
		{"this process", &DaemonState{PID: os.Getpid()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRunning(tt.state); got != tt.want {
				t.Errorf("IsRunning() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStopDaemon_NothingToStop(t *testing.T) {
	if err := StopDaemon(nil); err != nil {
		t.Errorf("StopDaemon(nil) error = %v", err)
	}
	if err := StopDaemon(&DaemonState{}); err != nil {
		t.Errorf("StopDaemon(zero) error = %v", err)
	}
}

func TestCleanupStaleState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	t.Setenv(StatePathEnvVar, path)

	// A pid this large is never allocated.
	if err := SaveState(&DaemonState{PID: 1 << 30}); err != nil {
		t.Fatal(err)
	}
	if err := CleanupStaleState(); err != nil {
		t.Fatalf("CleanupStaleState() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("stale state not removed: %v", err)
	}
}
