package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/client"
	"github.com/alfredjeanlab/traceql/internal/ui"
)

var (
	serverURL  string
	jsonOutput bool
	noColor    bool

	tqClient client.TraceQLClient
)

func defaultServer() string {
	if s := os.Getenv("TRACEQL_SERVER"); s != "" {
		return s
	}
	return "http://localhost:5050"
}

var rootCmd = &cobra.Command{
	Use:           "tq <command>",
	Short:         "Log and trace event backend",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupColor(cmd)
		tqClient = client.NewHTTPClient(serverURL)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tqClient != nil {
			tqClient.Close()
		}
	},
}

// setupColor disables styling when --no-color is set or the output is not
// a color-capable terminal.
func setupColor(cmd *cobra.Command) {
	f, ok := cmd.OutOrStdout().(*os.File)
	if noColor || !ok || !ui.ShouldUseColor(f) {
		ui.ForceNoColor()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "server base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "query", Title: "Queries:"},
		&cobra.Group{ID: "ingest", Title: "Ingestion:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Queries
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(servicesCmd)

	// Ingestion
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(generateCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
