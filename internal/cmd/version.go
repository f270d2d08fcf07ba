package cmd

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nuketown/broker/internal/term"
	"github.com/nuketown/broker/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		term.Printf("nuketown-broker %s (%s, %s/%s)\n", version.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
