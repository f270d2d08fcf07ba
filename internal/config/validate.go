package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Decrypt backends.
const (
	BackendCommand = "command"
	BackendAge     = "age"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that every field holds a usable value. The error names
// the offending field by its YAML path.
func Validate(cfg *Config) error {
	if cfg.Broker.Socket == "" {
		return fmt.Errorf("broker.socket: must not be empty")
	}
	if err := validateMode(cfg.Broker.SocketMode, "broker.socket_mode"); err != nil {
		return err
	}
	if err := validateMode(cfg.Broker.SocketDirMode, "broker.socket_dir_mode"); err != nil {
		return err
	}
	if err := validateDuration(cfg.Broker.ReadTimeout, "broker.read_timeout"); err != nil {
		return err
	}
	if err := validateDuration(cfg.Broker.PromptTimeout, "broker.prompt_timeout"); err != nil {
		return err
	}
	if cfg.Broker.MaxAttempts < 0 {
		return fmt.Errorf("broker.max_attempts: must be non-negative, got %d", cfg.Broker.MaxAttempts)
	}

	switch cfg.Decrypt.Backend {
	case BackendCommand:
		if cfg.Decrypt.Command == "" {
			return fmt.Errorf("decrypt.command: required for backend %q", BackendCommand)
		}
		if !containsPlaceholder(cfg.Decrypt.Args, "{in}") || !containsPlaceholder(cfg.Decrypt.Args, "{out}") {
			return fmt.Errorf("decrypt.args: must reference both {in} and {out}")
		}
	case BackendAge:
		if cfg.Decrypt.AgeIdentity == "" {
			return fmt.Errorf("decrypt.age_identity: required for backend %q", BackendAge)
		}
	default:
		return fmt.Errorf("decrypt.backend: invalid value %q, must be one of: command, age", cfg.Decrypt.Backend)
	}

	if cfg.Dialog.Command == "" {
		return fmt.Errorf("dialog.command: must not be empty")
	}

	if cfg.Notify.Enabled {
		if !strings.HasPrefix(cfg.Notify.URL, "ws://") && !strings.HasPrefix(cfg.Notify.URL, "wss://") {
			return fmt.Errorf("notify.url: invalid value %q, expected ws:// or wss:// URL", cfg.Notify.URL)
		}
		if err := validateJID(cfg.Notify.JID, "notify.jid"); err != nil {
			return err
		}
		if err := validateJID(cfg.Notify.Approver, "notify.approver"); err != nil {
			return err
		}
		if cfg.Notify.PasswordFile == "" {
			return fmt.Errorf("notify.password_file: required when notify is enabled")
		}
		if err := validateDuration(cfg.Notify.Keepalive, "notify.keepalive"); err != nil {
			return err
		}
	}

	if err := validateMode(cfg.Install.Mode, "install.mode"); err != nil {
		return err
	}
	if mode, _ := ParseMode(cfg.Install.Mode); mode&0o077 != 0 {
		return fmt.Errorf("install.mode: %04o grants group or other access; decrypted files must be owner-only", mode)
	}
	if err := validateDuration(cfg.Client.DialTimeout, "client.dial_timeout"); err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		if err := validateListenAddr(cfg.Metrics.Listen, "metrics.listen"); err != nil {
			return err
		}
	}

	if cfg.Log.Level != "" && !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level: invalid value %q, must be one of: debug, info, warn, error", cfg.Log.Level)
	}
	return nil
}

// ParseMode parses an octal permission string such as "0600".
func ParseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	if v&^0o777 != 0 {
		return 0, fmt.Errorf("mode %q has bits outside 0777", s)
	}
	return os.FileMode(v), nil
}

// Duration parses a validated duration string, falling back to def when
// s is empty or malformed.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func validateMode(s, field string) error {
	if _, err := ParseMode(s); err != nil {
		return fmt.Errorf("%s: %v", field, err)
	}
	return nil
}

func validateDuration(d, field string) error {
	v, err := time.ParseDuration(d)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, d)
	}
	if v <= 0 {
		return fmt.Errorf("%s: must be positive, got %q", field, d)
	}
	return nil
}

// validateListenAddr validates a listen address in the format ":port" or "host:port".
func validateListenAddr(addr, field string) error {
	colonIdx := strings.LastIndex(addr, ":")
	if colonIdx == -1 {
		return fmt.Errorf("%s: invalid format %q, expected host:port or :port", field, addr)
	}
	portStr := addr[colonIdx+1:]
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%s: invalid port %q in %q", field, portStr, addr)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s: invalid port number %d, must be 1-65535", field, port)
	}
	return nil
}

// validateJID accepts a bare JID (local@domain).
func validateJID(jid, field string) error {
	local, domain, ok := strings.Cut(jid, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(domain, "@/") {
		return fmt.Errorf("%s: invalid bare JID %q", field, jid)
	}
	return nil
}

func containsPlaceholder(args []string, p string) bool {
	for _, a := range args {
		if strings.Contains(a, p) {
			return true
		}
	}
	return false
}
