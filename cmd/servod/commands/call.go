package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"servo-dispatcher/internal/dispatch"
)

var callCmd = &cobra.Command{
	Use:   "call <action>",
	Short: "Perform a named action on the running server",
	Long: `Perform an action on the running servod and print its JSON result, e.g.

  servod call refresh
  servod call scheduler/disable
  servod call servos/3`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadRuntime()
	if err != nil {
		return err
	}
	client := dispatch.NewClient(loopbackAddress(cfg.HTTP.Listen), cfg.Scheduler.ActionTimeout)

	var body json.RawMessage
	if err := client.Get(cmd.Context(), args[0], &body); err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}
