package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nuketown/broker/internal/config"
	"github.com/nuketown/broker/internal/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the broker configuration",
	Long: `Manage the broker configuration.

The configuration file is stored at ~/.config/nuketown/broker.yaml (or
$XDG_CONFIG_HOME/nuketown/broker.yaml if XDG_CONFIG_HOME is set). Every
field can be overridden with a NUKETOWN_BROKER_* environment variable, for
example NUKETOWN_BROKER_BROKER_SOCKET.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective config",
	Long: `Print the effective configuration as YAML, after defaults and
environment overrides have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	Args:  cobra.NoArgs,
	Run:   runConfigPath,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default config file",
	Long: `Create a fully-commented default configuration file if none exists.
An existing file is left untouched.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

func effectiveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.Path()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(err)
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	term.Print(string(data))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) {
	term.Println(effectiveConfigPath())
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := effectiveConfigPath()
	created, err := config.WriteDefaultConfig(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if created {
		term.Printf("Created default config at: %s\n", path)
	} else {
		term.Printf("Config already exists at: %s\n", path)
	}
	return nil
}
