// Package hooks runs a user-supplied shell command for followed events.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/traceql/internal/model"
)

// Default and max timeout for hook commands.
const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 300 * time.Second
)

// Result holds the output of running a single hook command.
type Result struct {
	Output string
	Err    error
}

// Execute runs command via "sh -c" with the given timeout, extra environment
// and standard input. The timeout is clamped to MaxTimeout; zero or negative
// means DefaultTimeout.
func Execute(ctx context.Context, command string, timeout time.Duration, env map[string]string, stdin io.Reader) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(hookCtx, "sh", "-c", command) //nolint:gosec // the command comes from the operator's own flags
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = stdin

	// Inherit process environment and overlay hook-specific vars.
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	err := cmd.Run()
	output := strings.TrimSpace(stdout.String())
	if output == "" {
		output = strings.TrimSpace(stderr.String())
	}
	return Result{Output: output, Err: err}
}

// Env returns the variables describing e that a hook command receives.
// Absent optional fields are left unset.
func Env(e *model.Event) map[string]string {
	env := map[string]string{
		"TRACEQL_EVENT_ID": e.ID,
		"TRACEQL_TS":       strconv.FormatInt(e.TS, 10),
		"TRACEQL_SERVICE":  e.Service,
		"TRACEQL_LEVEL":    string(e.Level),
		"TRACEQL_MESSAGE":  e.Message,
	}
	if e.TraceID != nil {
		env["TRACEQL_TRACE_ID"] = *e.TraceID
	}
	if e.SpanID != nil {
		env["TRACEQL_SPAN_ID"] = *e.SpanID
	}
	if e.ParentSpanID != nil {
		env["TRACEQL_PARENT_SPAN_ID"] = *e.ParentSpanID
	}
	if e.DurationMs != nil {
		env["TRACEQL_DURATION_MS"] = strconv.FormatInt(*e.DurationMs, 10)
	}
	return env
}

// Runner executes one command per event it is handed.
type Runner struct {
	Command string
	Timeout time.Duration
	logger  *slog.Logger
}

// NewRunner returns a Runner for command. A nil logger uses slog.Default().
func NewRunner(command string, timeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Command: command, Timeout: timeout, logger: logger}
}

// Handle runs the command for e, with the event's JSON on standard input and
// its fields in TRACEQL_* variables. A failing command is logged and
// returned; it never stops the caller's stream.
func (r *Runner) Handle(ctx context.Context, e *model.Event) Result {
	payload, err := json.Marshal(e)
	if err != nil {
		return Result{Err: fmt.Errorf("encode event %s: %w", e.ID, err)}
	}
	res := Execute(ctx, r.Command, r.Timeout, Env(e), bytes.NewReader(payload))
	if res.Err != nil {
		r.logger.Warn("hook command failed", "event", e.ID, "error", res.Err, "output", res.Output)
	} else {
		r.logger.Debug("hook command ran", "event", e.ID, "output", res.Output)
	}
	return res
}
