package cmd

import (
	"errors"
	"strings"
	"testing"
)

func TestExitCodeError(t *testing.T) {
	t.Run("NewExitCodeError creates error with code", func(t *testing.T) {
		err := NewExitCodeError(42)
		if err.Code != 42 {
			t.Errorf("Code = %d, want 42", err.Code)
		}
	})

	t.Run("Error returns formatted message", func(t *testing.T) {
		var e error = NewExitCodeError(3)
		if e.Error() != "exit code 3" {
			t.Errorf("Error() = %q, want %q", e.Error(), "exit code 3")
		}
	})

	t.Run("errors.As matches wrapped ExitCodeError", func(t *testing.T) {
		wrapped := errors.Join(errors.New("wrapper"), NewExitCodeError(4))
		var exitErr *ExitCodeError
		if !errors.As(wrapped, &exitErr) {
			t.Fatal("errors.As failed to match wrapped ExitCodeError")
		}
		if exitErr.Code != 4 {
			t.Errorf("Code = %d, want 4", exitErr.Code)
		}
	})
}

func TestConfigError(t *testing.T) {
	configPath = "/etc/nuketown/broker.yaml"
	t.Cleanup(func() { configPath = "" })

	inner := errors.New("bad yaml")
	err := configError(inner)
	if !errors.Is(err, inner) {
		t.Error("configError should wrap the cause")
	}
	if !strings.Contains(err.Error(), "/etc/nuketown/broker.yaml") {
		t.Errorf("configError() = %q, want the path", err)
	}
}
