// Package ui renders styled CLI output: status messages, structured error
// display, and the pool-stats table.
package ui

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/tmckenzie51/sshkit/internal/errors"
	"github.com/tmckenzie51/sshkit/internal/pool"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// ColorEnabled reports whether the terminal supports color output.
// Respects NO_COLOR and dumb terminals via termenv.
func ColorEnabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii && !termenv.EnvNoColor()
}

// Success renders a green checkmark line.
func Success(msg string) string {
	style := lipgloss.NewStyle().Foreground(ColorSuccess)
	return style.Render(SymbolSuccess) + " " + msg
}

// Failure renders a red cross line.
func Failure(msg string) string {
	style := lipgloss.NewStyle().Foreground(ColorError)
	return style.Render(SymbolFail) + " " + msg
}

// Warn renders a yellow warning line.
func Warn(msg string) string {
	style := lipgloss.NewStyle().Foreground(ColorWarning)
	return style.Render("!") + " " + msg
}

// FormatError renders a structured error the way the CLI shows failures:
// the message, its cause when present, and the remediation suggestion in
// muted text underneath.
func FormatError(err error) string {
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return Failure(err.Error())
	}

	var b strings.Builder
	b.WriteString(Failure(structured.Message))
	if structured.Cause != nil {
		b.WriteString("\n  " + mutedStyle.Render(structured.Cause.Error()))
	}
	if structured.Suggestion != "" {
		b.WriteString("\n  " + mutedStyle.Render(structured.Suggestion))
	}
	return b.String()
}

// StateSymbol maps a connection state to its status indicator.
func StateSymbol(s sshutil.State) string {
	switch s {
	case sshutil.StateReady:
		return lipgloss.NewStyle().Foreground(ColorSuccess).Render(SymbolSuccess)
	case sshutil.StateConnecting, sshutil.StateConnected, sshutil.StateAuthenticating:
		return lipgloss.NewStyle().Foreground(ColorWarning).Render(SymbolProgress)
	case sshutil.StateError:
		return lipgloss.NewStyle().Foreground(ColorError).Render(SymbolFail)
	default:
		return lipgloss.NewStyle().Foreground(ColorMuted).Render(SymbolPending)
	}
}

// RenderStats renders the pool counters as a one-line summary.
func RenderStats(s pool.Stats) string {
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)
	return fmt.Sprintf("%s  %s  %s  %s",
		mutedStyle.Render(fmt.Sprintf("total %d", s.Total)),
		lipgloss.NewStyle().Foreground(ColorSuccess).Render(fmt.Sprintf("active %d", s.Active)),
		lipgloss.NewStyle().Foreground(ColorInfo).Render(fmt.Sprintf("idle %d", s.Idle)),
		lipgloss.NewStyle().Foreground(ColorWarning).Render(fmt.Sprintf("pending %d", s.Pending)),
	)
}

// RenderConnTable renders the per-connection table for `sshkit stats`.
func RenderConnTable(conns []pool.ConnInfo) string {
	if len(conns) == 0 {
		return "No pooled connections"
	}

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorMuted)
	mutedStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	var b strings.Builder
	b.WriteString(headerStyle.Render("        "+padRight("CONNECTION", 33)+padRight("STATE", 17)+"LAST USED") + "\n")

	for _, c := range conns {
		inUse := " "
		if c.InUse {
			inUse = lipgloss.NewStyle().Foreground(ColorSuccess).Render(SymbolActive)
		}
		line := "  " + StateSymbol(c.State) + inUse + "    " +
			padRight(c.Key, 33) +
			padRight(c.State.String(), 17) +
			mutedStyle.Render(humanSince(c.LastUsed))
		b.WriteString(line + "\n")
	}
	return b.String()
}

// humanSince formats how long ago a timestamp was, coarsely.
func humanSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// padRight pads a string to the specified width, ignoring ANSI codes.
func padRight(s string, width int) string {
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleLen)
}
