package config

import (
	"os"
	"path/filepath"

	"github.com/nuketown/broker/internal/clog"
)

// Default values. Durations and modes are strings so the YAML reads the
// same way users write them.
const (
	DefaultSocket        = "/run/nuketown-broker/sock"
	DefaultSocketMode    = "0660"
	DefaultSocketDirMode = "0750"
	DefaultReadTimeout   = "30s"
	DefaultPromptTimeout = "60s"
	DefaultMaxAttempts   = 5
	DefaultDialog        = "zenity"
	DefaultDialogTitle   = "Agent approval"
	DefaultResource      = "nuketown-broker"
	DefaultKeepalive     = "5m"
	DefaultInstallMode   = "0600"
	DefaultMockFile      = "/run/nuketown-broker/mock"
	DefaultDialTimeout   = "5s"
)

// DefaultDecryptArgs invokes gpg non-interactively; the smartcard agent
// still demands the physical touch.
var DefaultDecryptArgs = []string{"--batch", "--yes", "--quiet", "--decrypt", "--output", "{out}", "{in}"}

// Default returns a Config with every default populated.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Socket:        DefaultSocket,
			SocketMode:    DefaultSocketMode,
			SocketDirMode: DefaultSocketDirMode,
			TempDir:       filepath.Join(os.TempDir(), "nuketown-broker"),
			ReadTimeout:   DefaultReadTimeout,
			PromptTimeout: DefaultPromptTimeout,
			MaxAttempts:   DefaultMaxAttempts,
		},
		Decrypt: DecryptConfig{
			Backend: BackendCommand,
			Command: "gpg",
			Args:    append([]string(nil), DefaultDecryptArgs...),
		},
		Dialog: DialogConfig{
			Command: DefaultDialog,
			Title:   DefaultDialogTitle,
		},
		Notify: NotifyConfig{
			Resource:  DefaultResource,
			Keepalive: DefaultKeepalive,
		},
		Install: InstallConfig{
			Mode: DefaultInstallMode,
		},
		Client: ClientConfig{
			MockFile:    DefaultMockFile,
			DialTimeout: DefaultDialTimeout,
		},
		Log: LogConfig{
			File:  clog.DefaultLogPath(),
			Level: "info",
		},
	}
}

// defaultConfigTemplate is written by WriteDefaultConfig. Everything is
// commented out so the built-in defaults stay authoritative.
const defaultConfigTemplate = `# nuketown-broker configuration
# Values shown are the built-in defaults. Every field can also be set with
# NUKETOWN_BROKER_<SECTION>_<FIELD>, e.g. NUKETOWN_BROKER_BROKER_SOCKET.

# broker:
#   socket: /run/nuketown-broker/sock
#   socket_mode: "0660"
#   socket_dir_mode: "0750"
#   socket_group: agents
#   read_timeout: 30s
#   prompt_timeout: 60s
#   max_attempts: 5        # 0 = retry until the human denies

# decrypt:
#   backend: command       # command | age
#   command: gpg
#   args: [--batch, --yes, --quiet, --decrypt, --output, "{out}", "{in}"]
#   age_identity: ~/.config/nuketown/age-identity.txt

# dialog:
#   command: zenity
#   title: Agent approval

# notify:
#   enabled: false
#   url: wss://chat.example.org/xmpp-websocket
#   jid: broker@example.org
#   resource: nuketown-broker
#   password_file: ~/.config/nuketown/xmpp-password
#   approver: human@example.org
#   keepalive: 5m

# install:
#   mode: "0600"
#   chown_to_peer: false

# client:
#   mock_file: /run/nuketown-broker/mock
#   dial_timeout: 5s

# metrics:
#   listen: 127.0.0.1:9464

# log:
#   file: ~/.local/state/nuketown/broker.log
#   level: info
`
