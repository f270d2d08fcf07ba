package config

import (
	"os"
	"path/filepath"

	"github.com/nuketown/broker/internal/pathutil"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "NUKETOWN_BROKER_CONFIG"

// Dir returns $XDG_CONFIG_HOME/nuketown, defaulting to ~/.config/nuketown.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = "~/.config"
	}
	return filepath.Join(pathutil.ExpandHome(base), "nuketown")
}

// Path returns the config file path, honoring PathEnvVar.
func Path() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return pathutil.ExpandHome(p)
	}
	return filepath.Join(Dir(), "broker.yaml")
}
