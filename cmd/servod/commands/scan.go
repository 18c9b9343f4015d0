package commands

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var scanJSON bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover serial ports and servos once and print them",
	Long: `Enumerate the serial ports matching the configured patterns, probe each
for servos and print the result. Servos are initialised as part of the
refresh, exactly as serve does on start.

Use --json for machine-readable output.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := newPool(cfg, log)
	defer mgr.Close()
	mgr.Refresh(ctx)

	out := cmd.OutOrStdout()
	if scanJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"ports":     mgr.Ports(),
			"conflicts": mgr.Conflicts(),
		})
	}
	printPorts(out, mgr.Ports(), mgr.Conflicts())
	return nil
}
