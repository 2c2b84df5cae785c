// Package output provides styled terminal output helpers (success, error,
// warning, sync badges) using lipgloss.
package output

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fieldtrace/ftrace/internal/models"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	statusStyles = map[string]lipgloss.Style{
		models.StatusSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a green checkmark line.
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// Error prints a red cross line.
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("✗") + " " + fmt.Sprintf(format, args...))
}

// Warning prints an amber line.
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("!") + " " + fmt.Sprintf(format, args...))
}

// Title renders a bold heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

// Subtle renders dim helper text.
func Subtle(s string) string {
	return subtleStyle.Render(s)
}

// StatusBadge renders a colored sync status word.
func StatusBadge(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return status
}

// PendingBadge renders the outbox depth badge for status displays.
func PendingBadge(count int64) string {
	if count == 0 {
		return successStyle.Render("0 pending")
	}
	return warningStyle.Render(fmt.Sprintf("%d pending", count))
}

// OpErrorLine formats a structured operation error for entity-level
// badges.
func OpErrorLine(e *models.OpError) string {
	if e == nil {
		return ""
	}
	parts := []string{errorStyle.Render(e.Code)}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Step != "" {
		parts = append(parts, subtleStyle.Render("("+e.Step+")"))
	}
	return strings.Join(parts, " ")
}
