package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nuketown/broker/internal/prompt"
	"github.com/nuketown/broker/internal/term"
)

var notifyPasswordFile string

// Replaced in tests.
var (
	newCredentialReader = func() prompt.CredentialReader {
		return prompt.NewTerminalCredentialReader(os.Stdin, os.Stderr)
	}
	newConfirmer = func() prompt.Confirmer {
		return prompt.NewStdinConfirmer(os.Stdin, os.Stderr)
	}
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Manage the remote notification session",
}

var notifyPasswordCmd = &cobra.Command{
	Use:   "password",
	Short: "Store the remote account password",
	Long: `Read the remote account password without echo and store it in
notify.password_file with owner-only permissions. When stdin is not a
terminal the first line of stdin is used.`,
	Args: cobra.NoArgs,
	RunE: runNotifyPassword,
}

func init() {
	notifyPasswordCmd.Flags().StringVar(&notifyPasswordFile, "file", "", "override notify.password_file")
	notifyCmd.AddCommand(notifyPasswordCmd)
	rootCmd.AddCommand(notifyCmd)
}

func runNotifyPassword(cmd *cobra.Command, args []string) error {
	path := notifyPasswordFile
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return configError(err)
		}
		path = cfg.Notify.PasswordFile
	}
	if path == "" {
		return fmt.Errorf("no password file configured; set notify.password_file or pass --file")
	}

	if _, err := os.Stat(path); err == nil {
		ok, err := newConfirmer().Confirm(fmt.Sprintf("%s exists. Overwrite?", path), false)
		if err != nil {
			return err
		}
		if !ok {
			term.Println("Password unchanged")
			return nil
		}
	}

	password, err := newCredentialReader().ReadCredential("Password: ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create password directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(password+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write password file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict password file: %w", err)
	}
	term.Printf("Password stored in %s\n", path)
	return nil
}
