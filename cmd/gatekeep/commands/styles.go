package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")).
			Padding(0, 1).
			MarginBottom(1)

	colHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true).
			MarginRight(1)

	cellStyle = lipgloss.NewStyle().MarginRight(1)
	sepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)

	okColor   = lipgloss.Color("#2E8B57")
	warnColor = lipgloss.Color("#D7875F")
	dimColor  = lipgloss.Color("241")
)

// column is one fixed-width table column.
type column struct {
	title string
	width int
}

// renderTable writes a header row, a separator and one row per record.
// Cells wider than their column are truncated.
func renderTable(w io.Writer, title string, cols []column, rows [][]string, colorOf func(row []string) lipgloss.TerminalColor) {
	fmt.Fprintln(w, headerStyle.Render(title))

	headers := make([]string, len(cols))
	seps := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = colHeaderStyle.Width(c.width).Render(c.title)
		seps[i] = sepStyle.Render(strings.Repeat("─", c.width))
	}
	fmt.Fprintf(w, "  %s\n", lipgloss.JoinHorizontal(lipgloss.Top, headers...))
	fmt.Fprintf(w, "  %s\n", lipgloss.JoinHorizontal(lipgloss.Top, seps...))

	for _, row := range rows {
		style := cellStyle
		if colorOf != nil {
			if color := colorOf(row); color != nil {
				style = style.Foreground(color)
			}
		}
		cells := make([]string, len(cols))
		for i, c := range cols {
			val := ""
			if i < len(row) {
				val = truncate(row[i], c.width)
			}
			cells[i] = style.Width(c.width).Render(val)
		}
		fmt.Fprintf(w, "  %s\n", lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}

func statusColor(status string) lipgloss.TerminalColor {
	switch status {
	case "succeeded", "approved", "executed":
		return okColor
	case "failed", "rejected", "expired", "cancelled":
		return dimColor
	case "retry_scheduled", "running":
		return warnColor
	default:
		return nil
	}
}
