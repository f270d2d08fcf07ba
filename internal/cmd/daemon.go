package cmd

import (
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/nuketown/broker/internal/broker"
	"github.com/nuketown/broker/internal/client"
	"github.com/nuketown/broker/internal/term"
)

// stopTimeout is how long stop waits for the broker to exit.
var stopTimeout = 10 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the broker is running",
	Long: `Show the state of the local broker: its pid, socket and start time.

Exits with status 3 when no broker is running, matching the client commands'
"unreachable" status.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running broker",
	Long: `Ask the running broker to shut down and wait for it to exit.

In-flight requests are answered with "ERROR: broker shutting down".`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	state, err := broker.LoadState()
	if err != nil {
		return err
	}
	if !broker.IsRunning(state) {
		term.Println("broker is not running")
		return NewExitCodeError(client.ExitUnreachable)
	}

	term.Printf("broker is running\n")
	term.Printf("  pid:     %d\n", state.PID)
	term.Printf("  socket:  %s\n", state.Socket)
	if !state.StartedAt.IsZero() {
		term.Printf("  started: %s (%s ago)\n", state.StartedAt.Format(time.RFC3339), time.Since(state.StartedAt).Round(time.Second))
	}
	if state.Version != "" {
		term.Printf("  version: %s\n", state.Version)
	}

	conn, err := net.DialTimeout("unix", state.Socket, time.Second)
	if err != nil {
		term.Warn("socket %s is not accepting connections: %v", state.Socket, err)
		return NewExitCodeError(client.ExitUnreachable)
	}
	_ = conn.Close()
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	state, err := broker.LoadState()
	if err != nil {
		return err
	}
	if !broker.IsRunning(state) {
		term.Println("broker is not running")
		return broker.CleanupStaleState()
	}

	term.Printf("Stopping broker (pid %d)...\n", state.PID)
	if err := broker.StopDaemon(state); err != nil {
		return err
	}

	deadline := time.Now().Add(stopTimeout)
	for broker.IsRunning(state) {
		if time.Now().After(deadline) {
			return fmt.Errorf("broker (pid %d) did not exit within %s", state.PID, stopTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	term.Println("Broker stopped")
	return nil
}
