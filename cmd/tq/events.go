package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/model"
)

var (
	eventsService string
	eventsLevel   string
	eventsSearch  string
	eventsLimit   int
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "List recent events, newest first",
	Example: `  tq events --service api --level ERROR
  tq events -q checkout --limit 20`,
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := model.EventFilter{
			Service: eventsService,
			Level:   model.Level(eventsLevel),
			Search:  eventsSearch,
			Limit:   eventsLimit,
		}
		events, err := tqClient.ListEvents(cmd.Context(), filter)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), events)
		}
		printEvents(cmd.OutOrStdout(), events)
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsService, "service", "", "only events from this service")
	eventsCmd.Flags().StringVar(&eventsLevel, "level", "", "only events at this level (DEBUG, INFO, WARN, ERROR)")
	eventsCmd.Flags().StringVarP(&eventsSearch, "query", "q", "", "only events whose message contains this text")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", model.DefaultLimit, "maximum events to return (at most 500)")
}
