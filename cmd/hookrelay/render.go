package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// theme centralizes CLI styling.
type theme struct {
	OK     lipgloss.Style
	Failed lipgloss.Style
	Warn   lipgloss.Style
	Dim    lipgloss.Style
	Header lipgloss.Style
	Border lipgloss.Style
	Title  lipgloss.Style
}

var styles = newTheme()

func newTheme() theme {
	purple := lipgloss.Color("#874BFD")
	return theme{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1),
		Border: lipgloss.NewStyle().Foreground(purple),
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")),
	}
}

// renderTable draws rows under headers with rounded borders.
func renderTable(headers []string, rows [][]string) string {
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return cell
		})
	return t.String()
}

// statusText colors a journal or registration status.
func statusText(status string) string {
	switch status {
	case "ok", "registered", "process", "in-process":
		return styles.OK.Render(status)
	case "error", "rejected":
		return styles.Failed.Render(status)
	case "blocked", "disabled", "unregistered":
		return styles.Warn.Render(status)
	default:
		return status
	}
}
