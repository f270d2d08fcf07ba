// Package broker adjudicates privileged operations for agents. Each
// connection carries one batch; the broker races a hardware-gated decrypt
// against a human prompt (optionally mirrored to a remote session) and
// answers with exactly one outcome line.
package broker

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/nuketown/broker/internal/decrypt"
	"github.com/nuketown/broker/internal/dialog"
	"github.com/nuketown/broker/internal/metrics"
	"github.com/nuketown/broker/internal/notify"
)

// Defaults for Options fields left zero.
const (
	DefaultPromptTimeout = 60 * time.Second
	DefaultReadTimeout   = 30 * time.Second
	DefaultInstallMode   = os.FileMode(0o600)
	DefaultTitle         = "Agent approval"
)

// Remote mirrors prompts to a remote approver. *notify.Manager implements
// it.
type Remote interface {
	Ask(ctx context.Context, req notify.Request) (*notify.Pending, error)
}

// Options configures a Broker.
type Options struct {
	Decrypter decrypt.Decrypter
	Presenter dialog.Presenter
	// Remote is optional; nil keeps prompts local.
	Remote  Remote
	Metrics *metrics.Metrics

	Title         string
	PromptTimeout time.Duration
	ReadTimeout   time.Duration
	// MaxAttempts bounds decrypt attempts in the combined flow. Zero
	// means retry for as long as the human keeps asking.
	MaxAttempts int
	// TempDir holds per-connection private directories.
	TempDir     string
	InstallMode os.FileMode
	ChownToPeer bool
}

// Broker holds the collaborators shared by all connections. It keeps no
// per-request state; every connection gets its own session.
type Broker struct {
	opts Options
}

// New validates opts and fills in defaults.
func New(opts Options) (*Broker, error) {
	if opts.Decrypter == nil {
		return nil, errors.New("broker: decrypter is required")
	}
	if opts.Presenter == nil {
		return nil, errors.New("broker: presenter is required")
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = DefaultPromptTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	opts.InstallMode = OwnerOnly(opts.InstallMode)
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	return &Broker{opts: opts}, nil
}

// ServeConn adjudicates the batch on conn and writes the outcome. It does
// not close conn. Cancelling ctx aborts arbitration with an error outcome.
func (b *Broker) ServeConn(ctx context.Context, conn net.Conn, peer Peer) {
	s := newSession(b, peer)
	s.serve(ctx, conn)
}
