package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"servo-dispatcher/internal/actions"
	"servo-dispatcher/internal/dispatch"
)

var shutdownLocal bool

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Put every servo into its safe shutdown state",
	Long: `Ask the running servod to perform the shutdown action.

With --local the ports are opened directly instead; use this only when no
servod is running, since both would contend for the same serial ports.`,
	RunE: runShutdown,
}

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownLocal, "local", false, "Open the ports directly instead of asking the server")
	rootCmd.AddCommand(shutdownCmd)
}

func runShutdown(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if shutdownLocal {
		mgr := newPool(cfg, log)
		defer mgr.Close()
		mgr.Refresh(cmd.Context())
		mgr.ShutdownAll(cmd.Context())
		success(out, "Shut down %d servos on %d ports", len(mgr.Servos()), mgr.Count())
		return nil
	}

	client := dispatch.NewClient(loopbackAddress(cfg.HTTP.Listen), 30*time.Second)
	var resp struct {
		Result actions.PoolSummary `json:"result"`
	}
	if err := client.Get(cmd.Context(), actions.Shutdown, &resp); err != nil {
		return fmt.Errorf("shutdown via %s: %w", cfg.HTTP.Listen, err)
	}
	success(out, "Shut down %d servos on %d ports", len(resp.Result.Servos), resp.Result.Ports)
	return nil
}
