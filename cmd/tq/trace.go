package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:     "trace <trace-id>",
	Short:   "Show the span tree of a trace",
	Example: "  tq trace 4bf92f3577b34da6",
	GroupID: "query",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := tqClient.GetTrace(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("getting trace: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printTrace(cmd.OutOrStdout(), res)
		return nil
	},
}
