// Package config provides the broker configuration, stored as YAML at
// $XDG_CONFIG_HOME/nuketown/broker.yaml and overridable per field through
// NUKETOWN_BROKER_* environment variables.
package config

// Config is the complete broker configuration.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker,omitempty" envPrefix:"BROKER_"`
	Decrypt DecryptConfig `yaml:"decrypt,omitempty" envPrefix:"DECRYPT_"`
	Dialog  DialogConfig  `yaml:"dialog,omitempty" envPrefix:"DIALOG_"`
	Notify  NotifyConfig  `yaml:"notify,omitempty" envPrefix:"NOTIFY_"`
	Install InstallConfig `yaml:"install,omitempty" envPrefix:"INSTALL_"`
	Client  ClientConfig  `yaml:"client,omitempty" envPrefix:"CLIENT_"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" envPrefix:"METRICS_"`
	Log     LogConfig     `yaml:"log,omitempty" envPrefix:"LOG_"`
}

// BrokerConfig configures the listening socket and the arbitration engine.
type BrokerConfig struct {
	// Socket is the unix socket path agents connect to.
	Socket string `yaml:"socket,omitempty" env:"SOCKET"`
	// SocketMode and SocketDirMode are octal permission strings. The
	// directory mode is what gates which local principals can connect.
	SocketMode    string `yaml:"socket_mode,omitempty" env:"SOCKET_MODE"`
	SocketDirMode string `yaml:"socket_dir_mode,omitempty" env:"SOCKET_DIR_MODE"`
	// SocketGroup, when set, is applied to the socket and its directory.
	SocketGroup string `yaml:"socket_group,omitempty" env:"SOCKET_GROUP"`
	// TempDir holds the per-connection private plaintext directories.
	TempDir string `yaml:"temp_dir,omitempty" env:"TEMP_DIR"`
	// ReadTimeout bounds how long a client may take to send its batch.
	ReadTimeout string `yaml:"read_timeout,omitempty" env:"READ_TIMEOUT"`
	// PromptTimeout is how long a prompt waits before resolving to denial.
	PromptTimeout string `yaml:"prompt_timeout,omitempty" env:"PROMPT_TIMEOUT"`
	// MaxAttempts caps decrypt attempts in the combined flow, retries
	// included. Zero means unbounded.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// DecryptConfig selects and configures the hardware-gated decrypt backend.
type DecryptConfig struct {
	// Backend is "command" (external program, gpg by default) or "age".
	Backend string `yaml:"backend,omitempty" env:"BACKEND"`
	// Command and Args describe the external program. "{in}" and "{out}"
	// in Args are replaced with the ciphertext and plaintext paths.
	Command string   `yaml:"command,omitempty" env:"COMMAND"`
	Args    []string `yaml:"args,omitempty" env:"ARGS" envSeparator:" "`
	// AgeIdentity is the identity file for the age backend.
	AgeIdentity string `yaml:"age_identity,omitempty" env:"AGE_IDENTITY"`
}

// DialogConfig configures the local approval prompt.
type DialogConfig struct {
	// Command is a zenity-compatible dialog program.
	Command string `yaml:"command,omitempty" env:"COMMAND"`
	Title   string `yaml:"title,omitempty" env:"TITLE"`
}

// NotifyConfig configures the optional remote notification session.
type NotifyConfig struct {
	Enabled bool `yaml:"enabled,omitempty" env:"ENABLED"`
	// URL is the XMPP-over-WebSocket endpoint (wss://host/xmpp-websocket).
	URL string `yaml:"url,omitempty" env:"URL"`
	// JID is the broker's bare account; Resource distinguishes this
	// session from the human's ordinary clients on the same account.
	JID          string `yaml:"jid,omitempty" env:"JID"`
	Resource     string `yaml:"resource,omitempty" env:"RESOURCE"`
	PasswordFile string `yaml:"password_file,omitempty" env:"PASSWORD_FILE"`
	// Approver is the human's general identity (bare JID).
	Approver  string `yaml:"approver,omitempty" env:"APPROVER"`
	Keepalive string `yaml:"keepalive,omitempty" env:"KEEPALIVE"`
}

// InstallConfig controls how decrypted material is installed.
type InstallConfig struct {
	Mode string `yaml:"mode,omitempty" env:"MODE"`
	// ChownToPeer hands the installed file to the connecting agent's uid
	// and gid. Only effective when the broker runs as root.
	ChownToPeer bool `yaml:"chown_to_peer,omitempty" env:"CHOWN_TO_PEER"`
}

// ClientConfig configures the thin client commands.
type ClientConfig struct {
	// MockFile, when it exists, short-circuits the socket with a canned
	// outcome. Test seam only.
	MockFile    string `yaml:"mock_file,omitempty" env:"MOCK_FILE"`
	DialTimeout string `yaml:"dial_timeout,omitempty" env:"DIAL_TIMEOUT"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen,omitempty" env:"LISTEN"`
}

// LogConfig configures operational logging.
type LogConfig struct {
	File  string `yaml:"file,omitempty" env:"FILE"`
	Level string `yaml:"level,omitempty" env:"LEVEL"`
}
