package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"servo-dispatcher/internal/config"
	"servo-dispatcher/internal/logging"
)

var (
	version = "dev"
	commit  string
	date    string

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "servod",
	Short: "servod - serial servo pool and periodic action dispatcher",
	Long: `servod discovers Modbus RTU servos on the host's serial ports, keeps an
index of them by device id and performs named actions on them, either on
request over HTTP or periodically from a schedule file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. Errors are printed by the command that
// produced them.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to servod.yaml (defaults and SERVOD_* environment only when empty)")
}

// loadRuntime loads the configuration and builds the logger it describes.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}
