package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/ui"
)

var servicesActive time.Duration

var servicesCmd = &cobra.Command{
	Use:     "services",
	Short:   "List services that have emitted events, most recent first",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := tqClient.Services(cmd.Context(), servicesActive)
		if err != nil {
			return fmt.Errorf("listing services: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("no services"))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tEVENTS\tWARN\tERROR\tLAST\tIDLE\tSTATE")
		for _, e := range entries {
			state := "active"
			if e.Stale {
				state = "stale"
			}
			idle := time.Duration(e.IdleSecs * float64(time.Second)).Round(time.Second)
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				e.Service, e.EventCount, e.WarnCount, e.ErrorCount, e.LastLevel, idle, state)
		}
		return w.Flush()
	},
}

func init() {
	servicesCmd.Flags().DurationVar(&servicesActive, "active", 0, "only services seen within this duration (0 = all)")
}
