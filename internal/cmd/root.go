// Package cmd implements the nuketown-broker CLI.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nuketown/broker/internal/clog"
	"github.com/nuketown/broker/internal/config"
	"github.com/nuketown/broker/internal/term"
	"github.com/nuketown/broker/internal/version"
)

var (
	configPath string
	debugFlag  bool
	quietFlag  bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nuketown-broker",
	Short: "Human-in-the-loop broker for agent privileges",
	Long: `nuketown-broker adjudicates privileged operations requested by AI agents.

Agents connect to a local unix socket and ask to run a command as another
user (sudo) or to decrypt a secret into place. A hardware-gated decrypt races
a human prompt, optionally mirrored to a remote chat session, and the broker
answers each request with exactly one outcome.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		term.SetSilent(quietFlag)
		if debugFlag {
			clog.SetLevel(clog.LevelDebug)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress normal output")
}

// Execute runs the root command and returns any error. Errors other than
// exit codes are reported on stderr.
func Execute() error {
	err := rootCmd.Execute()
	var exitErr *ExitCodeError
	if err != nil && !errors.As(err, &exitErr) {
		term.Error("%v", err)
	}
	return err
}

// loadConfig loads the file named by --config, or the default location.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}
