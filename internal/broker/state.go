package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nuketown/broker/internal/pathutil"
)

// StatePathEnvVar overrides the daemon state file location, mainly so tests
// and parallel instances don't collide.
const StatePathEnvVar = "NUKETOWN_BROKER_STATE"

// DaemonState records the running broker for status and stop.
type DaemonState struct {
	PID       int       `json:"pid"`
	Socket    string    `json:"socket"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version,omitempty"`
}

// StatePath returns the path of the daemon state file.
func StatePath() string {
	if p := os.Getenv(StatePathEnvVar); p != "" {
		return p
	}
	return filepath.Join(pathutil.RuntimeDir(), "nuketown-broker.json")
}

// SaveState writes state to StatePath.
func SaveState(state *DaemonState) error {
	path := StatePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// LoadState reads the daemon state. It returns nil, nil when no state file
// exists.
func LoadState() (*DaemonState, error) {
	data, err := os.ReadFile(StatePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var state DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// RemoveState deletes the state file.
func RemoveState() error {
	if err := os.Remove(StatePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove state: %w", err)
	}
	return nil
}

// IsRunning reports whether the process recorded in state is alive.
func IsRunning(state *DaemonState) bool {
	if state == nil || state.PID <= 0 {
		return false
	}
	process, err := os.FindProcess(state.PID)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// StopDaemon asks the recorded broker to shut down with SIGTERM. A process
// that is already gone is not an error.
func StopDaemon(state *DaemonState) error {
	if state == nil || state.PID <= 0 {
		return nil
	}
	process, err := os.FindProcess(state.PID)
	if err != nil {
		return nil //nolint:nilerr // nothing to stop
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signal broker (pid %d): %w", state.PID, err)
	}
	return nil
}

// CleanupStaleState removes the state file when its process is gone.
func CleanupStaleState() error {
	state, err := LoadState()
	if err != nil {
		return err
	}
	if state != nil && !IsRunning(state) {
		return RemoveState()
	}
	return nil
}
