package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/client"
	"github.com/alfredjeanlab/traceql/internal/producer"
)

var (
	generateInterval time.Duration
	generateCount    int
)

var generateCmd = &cobra.Command{
	Use:     "generate",
	Short:   "Submit synthetic checkout traces",
	GroupID: "ingest",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := client.NewHTTPClient(serverURL, client.WithLogger(logger))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		gen := producer.NewGenerator(c, generateInterval, logger)
		logger.Info("generating traces", "server", serverURL, "interval", generateInterval, "count", generateCount)
		stats, err := gen.Run(ctx, generateCount)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]int{"traces": stats.Traces, "skipped": stats.Skipped})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d traces (%d skipped)\n", stats.Traces, stats.Skipped)
		return nil
	},
}

func init() {
	generateCmd.Flags().DurationVar(&generateInterval, "interval", producer.DefaultInterval, "delay between traces")
	generateCmd.Flags().IntVar(&generateCount, "count", 0, "number of traces to submit (0 = until interrupted)")
}
