package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nuketown/broker/internal/client"
	"github.com/nuketown/broker/internal/config"
	"github.com/nuketown/broker/internal/protocol"
	"github.com/nuketown/broker/internal/term"
)

var (
	clientSocket  string
	clientTimeout time.Duration
)

// requestInput is where request reads its batch; tests replace it.
var requestInput io.Reader = os.Stdin

var sudoCmd = &cobra.Command{
	Use:   "sudo <user> -- <command...>",
	Short: "Ask to run a command as another user",
	Long: `Ask the broker for approval to run a command as <user>.

The command words are joined with spaces and sent verbatim; colons are
preserved. Exit status: 0 approved, 1 denied, 2 broker error,
3 broker unreachable, 4 invalid mock configuration.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := protocol.Operation{
			Kind:    protocol.KindSudo,
			User:    args[0],
			Command: strings.Join(args[1:], " "),
		}
		return submit(cmd.Context(), func(ctx context.Context, c *client.Client) (protocol.Outcome, error) {
			return c.Submit(ctx, []protocol.Operation{op})
		})
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <src> <dest>",
	Short: "Decrypt a secret into place",
	Long: `Ask the broker to decrypt <src> and install the plaintext at <dest>.

Relative paths are resolved against the current directory before they are
sent, since the broker does not share this process's working directory.
Exit status as for sudo; a successful decrypt exits 0.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		dest, err := filepath.Abs(args[1])
		if err != nil {
			return err
		}
		op := protocol.Operation{Kind: protocol.KindDecrypt, Src: src, Dest: dest}
		return submit(cmd.Context(), func(ctx context.Context, c *client.Client) (protocol.Outcome, error) {
			return c.Submit(ctx, []protocol.Operation{op})
		})
	},
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Send a raw protocol batch read from stdin",
	Long: `Send protocol lines read from stdin as one batch, for example:

  printf 'DECRYPT:/s/key.gpg:/home/agent/.ssh/id\nSUDO:root:nixos-rebuild switch\n' |
    nuketown-broker request

Reading stops at the first empty line or end of input.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := readBatch(requestInput)
		if err != nil {
			return err
		}
		return submit(cmd.Context(), func(ctx context.Context, c *client.Client) (protocol.Outcome, error) {
			return c.SubmitBatch(ctx, batch)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{sudoCmd, decryptCmd, requestCmd} {
		c.Flags().StringVar(&clientSocket, "socket", "", "override broker.socket")
		c.Flags().DurationVar(&clientTimeout, "timeout", 0, "give up after this long (0 waits for the broker)")
		rootCmd.AddCommand(c)
	}
}

// readBatch reads lines up to the first empty line and returns them with
// the terminator.
func readBatch(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	var b strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String(), nil
}

// submit loads the client config, runs send and reports the outcome as
// output plus exit status.
func submit(ctx context.Context, send func(context.Context, *client.Client) (protocol.Outcome, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(err)
	}
	socket := cfg.Broker.Socket
	if clientSocket != "" {
		socket = clientSocket
	}
	c := client.New(socket, cfg.Client.MockFile)
	c.DialTimeout = config.Duration(cfg.Client.DialTimeout, client.DefaultDialTimeout)

	if ctx == nil {
		ctx = context.Background()
	}
	if clientTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, clientTimeout)
		defer cancel()
	}

	outcome, err := send(ctx, c)
	code := client.ExitCode(outcome, err)
	switch {
	case err != nil:
		term.Error("%v", err)
	case outcome.Granted():
		term.Approved("%s", outcome)
	default:
		term.Refused("%s", outcome)
	}
	if code != client.ExitGranted {
		return NewExitCodeError(code)
	}
	return nil
}
