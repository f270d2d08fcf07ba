// Package pathutil expands user-relative paths found in the broker config.
package pathutil

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ExpandHome replaces a leading ~ with the user's home directory. The path
// is returned unchanged when the home directory is unknown.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// RuntimeDir returns $XDG_RUNTIME_DIR, or /run/user/<uid> when unset.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join("/run/user", strconv.Itoa(os.Getuid()))
}

// Expand applies ExpandHome and then expands $VAR references, so config
// values such as "$XDG_RUNTIME_DIR/broker.sock" work.
func Expand(path string) string {
	return os.ExpandEnv(ExpandHome(path))
}
