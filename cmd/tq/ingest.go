package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/client"
	"github.com/alfredjeanlab/traceql/internal/model"
)

var (
	ingestService  string
	ingestLevel    string
	ingestMessage  string
	ingestTraceID  string
	ingestSpanID   string
	ingestParentID string
	ingestDuration int64
	ingestTags     map[string]string
)

var ingestCmd = &cobra.Command{
	Use:     "ingest",
	Short:   "Submit a single event",
	GroupID: "ingest",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.IngestRequest{
			Service: ingestService,
			Level:   model.Level(ingestLevel),
			Message: ingestMessage,
			Tags:    ingestTags,
		}
		flags := cmd.Flags()
		if flags.Changed("trace") {
			req.TraceID = model.StringPtr(ingestTraceID)
		}
		if flags.Changed("span") {
			req.SpanID = model.StringPtr(ingestSpanID)
		}
		if flags.Changed("parent") {
			req.ParentSpanID = model.StringPtr(ingestParentID)
		}
		if flags.Changed("duration") {
			req.DurationMs = model.Int64Ptr(ingestDuration)
		}

		id, err := tqClient.Ingest(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("ingesting event: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "id": id})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s\n", id)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestService, "service", "", "emitting service (required)")
	ingestCmd.Flags().StringVar(&ingestLevel, "level", string(model.LevelInfo), "severity: DEBUG, INFO, WARN or ERROR")
	ingestCmd.Flags().StringVarP(&ingestMessage, "message", "m", "", "event message (required)")
	ingestCmd.Flags().StringVar(&ingestTraceID, "trace", "", "trace id")
	ingestCmd.Flags().StringVar(&ingestSpanID, "span", "", "span id")
	ingestCmd.Flags().StringVar(&ingestParentID, "parent", "", "parent span id")
	ingestCmd.Flags().Int64Var(&ingestDuration, "duration", 0, "span duration in milliseconds")
	ingestCmd.Flags().StringToStringVar(&ingestTags, "tag", nil, "tag as key=value (repeatable)")
}
