// Package ui holds the terminal rendering helpers shared by the CLI
// commands.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	faintStyle  = lipgloss.NewStyle().Faint(true)

	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// plain is set when the terminal reports no color support or the user
// asked for plain output.
var plain = termenv.EnvColorProfile() == termenv.Ascii

// SetPlain forces monochrome output (for --no-color and piped output).
func SetPlain(on bool) { plain = on }

func render(style lipgloss.Style, s string) string {
	if plain {
		return s
	}
	return style.Render(s)
}

// OK renders a success marker line.
func OK(s string) string { return render(okStyle, "✓") + " " + s }

// Warn renders a warning marker line.
func Warn(s string) string { return render(warnStyle, "!") + " " + s }

// Err renders a failure marker line.
func Err(s string) string { return render(errStyle, "✗") + " " + s }

// Accent highlights an identifier inside a line.
func Accent(s string) string { return render(accentStyle, s) }

// Faint de-emphasizes secondary detail.
func Faint(s string) string { return render(faintStyle, s) }

// Header renders a section heading.
func Header(s string) string { return render(headerStyle, s) }

// KV renders aligned key/value rows for status-style output.
func KV(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "  %s%s  %s\n", render(faintStyle, p[0]), strings.Repeat(" ", width-len(p[0])), p[1])
	}
	return b.String()
}
