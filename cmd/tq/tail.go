package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/client"
	"github.com/alfredjeanlab/traceql/internal/events"
	"github.com/alfredjeanlab/traceql/internal/hooks"
	"github.com/alfredjeanlab/traceql/internal/model"
)

var (
	tailService     string
	tailLevel       string
	tailNATS        string
	tailExec        string
	tailExecTimeout time.Duration
)

var tailCmd = &cobra.Command{
	Use:     "tail",
	Short:   "Follow newly ingested events",
	Long:    "Follow events as they are accepted. Only events ingested after the stream opens are shown.",
	Example: `  tq tail --level WARN
  tq tail --level ERROR --exec 'notify-send "$TRACEQL_SERVICE" "$TRACEQL_MESSAGE"'`,
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var runner *hooks.Runner
		if tailExec != "" {
			runner = hooks.NewRunner(tailExec, tailExecTimeout, slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
		}
		t := &tailer{w: cmd.OutOrStdout(), runner: runner}

		if tailNATS != "" {
			return t.fromNATS(ctx, tailNATS)
		}

		sub, err := tqClient.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("opening stream: %w", err)
		}
		for {
			e, err := sub.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, client.ErrStreamClosed) {
					return nil
				}
				return fmt.Errorf("reading stream: %w", err)
			}
			if err := t.handle(ctx, e); err != nil {
				return err
			}
		}
	},
}

// tailer prints followed events and runs the optional hook command for each.
type tailer struct {
	w      io.Writer
	runner *hooks.Runner
}

// fromNATS follows the published event subjects instead of the server's
// WebSocket stream.
func (t *tailer) fromNATS(ctx context.Context, url string) error {
	sub, err := events.NewNATSSubscriber(url)
	if err != nil {
		return err
	}
	defer sub.Close()

	subject := events.SubjectAll
	if tailService != "" {
		subject = events.Subject(&model.Event{Service: tailService})
	}
	var levels []model.Level
	if tailLevel != "" {
		levels = append(levels, model.Level(tailLevel))
	}
	ch, unsubscribe, err := sub.Subscribe(subject, levels...)
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := t.handle(ctx, e); err != nil {
				return err
			}
		}
	}
}

func (t *tailer) handle(ctx context.Context, e *model.Event) error {
	if !tailMatches(e) {
		return nil
	}
	if jsonOutput {
		if err := printJSON(t.w, e); err != nil {
			return err
		}
	} else {
		printEvents(t.w, []*model.Event{e})
	}
	if t.runner != nil {
		t.runner.Handle(ctx, e)
	}
	return nil
}

func tailMatches(e *model.Event) bool {
	if tailService != "" && e.Service != tailService {
		return false
	}
	if tailLevel != "" && string(e.Level) != tailLevel {
		return false
	}
	return true
}

func init() {
	tailCmd.Flags().StringVar(&tailService, "service", "", "only events from this service")
	tailCmd.Flags().StringVar(&tailLevel, "level", "", "only events at this level (DEBUG, INFO, WARN, ERROR)")
	tailCmd.Flags().StringVar(&tailExec, "exec", "", "shell command to run for each event (event JSON on stdin, fields in TRACEQL_* variables)")
	tailCmd.Flags().DurationVar(&tailExecTimeout, "exec-timeout", hooks.DefaultTimeout, "time limit for each --exec run")
	tailCmd.Flags().StringVar(&tailNATS, "nats", os.Getenv("TRACEQL_NATS_URL"), "follow the NATS event subjects at this URL instead of the server stream")
}
