package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspects the persisted crawl state",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the watermarks and the last scan time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			state, err := a.Store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			out := map[string]any{
				"last_confirmed_serial":      state.LastConfirmedSerial,
				"highest_known_valid_serial": state.HighestKnownValidSerial,
				"bootstrapped":               state.Bootstrapped(),
			}
			if !state.LastScanTimestamp.IsZero() {
				out["last_scan_timestamp"] = state.LastScanTimestamp.UTC().Format(time.RFC3339)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}
