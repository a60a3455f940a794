package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerColor  = lipgloss.Color("#F780FF")
	accentColor  = lipgloss.Color("#BD93F9")
	numberColor  = lipgloss.Color("#FF79C6")
	textColor    = lipgloss.Color("#E9E9F4")
	borderColor  = lipgloss.Color("#6272A4")
	summaryColor = lipgloss.Color("#8BE9FD")
	errorColor   = lipgloss.Color("#FF5555")
	okColor      = lipgloss.Color("#50FA7B")
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(headerColor).Bold(true)
	progressStyle = lipgloss.NewStyle().Foreground(borderColor).Italic(true)
	summaryStyle  = lipgloss.NewStyle().Foreground(summaryColor).Italic(true)
	okStyle       = lipgloss.NewStyle().Foreground(okColor)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	labelStyle    = lipgloss.NewStyle().Foreground(accentColor).Width(14)
	valueStyle    = lipgloss.NewStyle().Foreground(textColor)
)

// column describes one table column.
type column struct {
	title   string
	width   int
	numeric bool
}

// renderTable writes a bordered table in the house palette.
func renderTable(w io.Writer, cols []column, rows [][]string) {
	headerStyle := lipgloss.NewStyle().Foreground(headerColor).Bold(true).Padding(0, 1)
	borderStyle := lipgloss.NewStyle().Foreground(borderColor)

	headers := make([]string, len(cols))
	separator := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = headerStyle.Width(c.width).Render(c.title)
		separator[i] = strings.Repeat("─", c.width)
	}
	fmt.Fprintln(w, strings.Join(headers, borderStyle.Render("│")))
	fmt.Fprintln(w, borderStyle.Render(strings.Join(separator, "┼")))

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			style := lipgloss.NewStyle().Foreground(textColor).Padding(0, 1).Width(c.width)
			if c.numeric {
				style = style.Foreground(numberColor).Align(lipgloss.Right)
			}
			var v string
			if i < len(row) {
				v = truncate(row[i], c.width-2)
			}
			cells[i] = style.Render(v)
		}
		fmt.Fprintln(w, strings.Join(cells, borderStyle.Render("│")))
	}
}

// field writes one "label  value" line.
func field(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label)+valueStyle.Render(value))
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
