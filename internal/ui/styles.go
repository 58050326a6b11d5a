package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alfredjeanlab/traceql/internal/model"
)

var noColor bool

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("74"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	cmdStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("79")).Bold(true)

	levelStyles = map[model.Level]lipgloss.Style{
		model.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		model.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("74")),
		model.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		model.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
)

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	if noColor {
		return s
	}
	return accentStyle.Render(s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	if noColor {
		return s
	}
	return mutedStyle.Render(s)
}

// RenderCommand returns s styled as a command name.
func RenderCommand(s string) string {
	if noColor {
		return s
	}
	return cmdStyle.Render(s)
}

// RenderLevel returns the level padded to a fixed width and colored by
// severity.
func RenderLevel(l model.Level) string {
	s := l.String()
	for len(s) < 5 {
		s += " "
	}
	return renderLevel(l, s)
}

// RenderLevelName returns the level name colored by severity, unpadded.
func RenderLevelName(l model.Level) string {
	return renderLevel(l, l.String())
}

func renderLevel(l model.Level, s string) string {
	if noColor {
		return s
	}
	style, ok := levelStyles[l]
	if !ok {
		return s
	}
	return style.Render(s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
