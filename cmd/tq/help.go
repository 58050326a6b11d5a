package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/traceql/internal/model"
	"github.com/alfredjeanlab/traceql/internal/ui"
)

var (
	// "--limit int", "--active duration": the value type after a flag name.
	reFlagType = regexp.MustCompile(`(--[a-z-]+ )(string|int|duration|stringToString)\b`)

	reDefault = regexp.MustCompile(`\(default [^)]*\)`)

	reLevel = regexp.MustCompile(`\b(DEBUG|INFO|WARN|ERROR)\b`)
)

// colorizedHelpFunc returns a help function that renders cobra's usage text
// through styleHelp when stdout is a color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		f, ok := out.(*os.File)
		if !ok || !ui.ShouldUseColor(f) {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, styleHelp(buf.String()))
	}
}

// styleHelp restyles usage text line by line: section headers, tq
// invocations, command rows and flag rows each get their own treatment, and
// level names are shown in their severity colors wherever they appear.
func styleHelp(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = reLevel.ReplaceAllStringFunc(styleHelpLine(line), func(l string) string {
			return ui.RenderLevelName(model.Level(l))
		})
	}
	return strings.Join(lines, "\n")
}

func styleHelpLine(line string) string {
	body := strings.TrimLeft(line, " ")
	indent := line[:len(line)-len(body)]
	switch {
	case body == "":
		return line
	case indent == "" && strings.HasSuffix(body, ":"):
		return ui.RenderAccent(body)
	case strings.HasPrefix(body, "tq "):
		return indent + ui.RenderCommand(body)
	case strings.HasPrefix(body, "-"):
		body = reFlagType.ReplaceAllStringFunc(body, func(m string) string {
			parts := reFlagType.FindStringSubmatch(m)
			return parts[1] + ui.RenderMuted(parts[2])
		})
		return indent + reDefault.ReplaceAllStringFunc(body, ui.RenderMuted)
	case indent == "  ":
		name, rest, ok := strings.Cut(body, " ")
		if !ok {
			return line
		}
		return indent + ui.RenderCommand(name) + " " + rest
	}
	return line
}
