package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server is up",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := tqClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), map[string]bool{"ok": ok}); err != nil {
				return err
			}
		} else if ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Health: ok")
		}

		if !ok {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}
