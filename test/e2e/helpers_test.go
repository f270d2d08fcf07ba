//go:build e2e

package e2e

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// setAnswer controls the dialog stand-in: approve, deny, slow-approve or
// wait (never answers).
func setAnswer(t *testing.T, mode string) {
	t.Helper()
	writeControl(t, "answer", mode)
}

// setDecrypt controls the decrypt stand-in: ok, slow, hang or fail.
func setDecrypt(t *testing.T, mode string) {
	t.Helper()
	writeControl(t, "decrypt", mode)
}

func writeControl(t *testing.T, name, value string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(env.dir, name), []byte(value+"\n"), 0o600); err != nil {
		t.Fatalf("write %s control: %v", name, err)
	}
}

// runClient runs a client command against the shared broker and returns
// its combined output and exit status.
func runClient(t *testing.T, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(env.bin, append([]string{"--config", env.config}, args...)...)
	cmd.Env = brokerEnv()
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return strings.TrimSpace(string(out)), 0
	case errors.As(err, &exitErr):
		return strings.TrimSpace(string(out)), exitErr.ExitCode()
	default:
		t.Fatalf("run %v: %v", args, err)
		return "", -1
	}
}

// ciphertext writes a fake encrypted file the stand-in copies verbatim.
func ciphertext(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secret.gpg")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// runClientStdin is runClient with stdin supplied.
func runClientStdin(t *testing.T, stdin string, args ...string) (string, int) {
	t.Helper()
	cmd := exec.Command(env.bin, append([]string{"--config", env.config}, args...)...)
	cmd.Env = brokerEnv()
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return strings.TrimSpace(string(out)), 0
	case errors.As(err, &exitErr):
		return strings.TrimSpace(string(out)), exitErr.ExitCode()
	default:
		t.Fatalf("run %v: %v", args, err)
		return "", -1
	}
}
