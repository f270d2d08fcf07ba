package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/pathutil"
)

// Load reads the config file at Path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	clog.Debug("config: loading %s", path)

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		clog.Debug("config: %s not found, using defaults", path)
		cfg = Default()
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	expandPaths(cfg)
	return cfg, nil
}

func expandPaths(cfg *Config) {
	cfg.Broker.Socket = pathutil.Expand(cfg.Broker.Socket)
	cfg.Broker.TempDir = pathutil.Expand(cfg.Broker.TempDir)
	cfg.Decrypt.AgeIdentity = pathutil.Expand(cfg.Decrypt.AgeIdentity)
	cfg.Notify.PasswordFile = pathutil.Expand(cfg.Notify.PasswordFile)
	cfg.Client.MockFile = pathutil.Expand(cfg.Client.MockFile)
	cfg.Log.File = pathutil.Expand(cfg.Log.File)
}
