package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the monitor.
func (m Model) View() string {
	if m.Width > 0 && m.Width < MinWidth {
		return "terminal too narrow for the sync monitor\n"
	}

	var b strings.Builder

	header := panelTitleStyle.Render("ftrace sync monitor")
	badge := successStyle.Render(fmt.Sprintf("%d pending", m.Count))
	if m.Count > 0 {
		badge = warningStyle.Render(fmt.Sprintf("%d pending", m.Count))
	}
	if m.Syncing {
		badge = m.Spinner.View() + " syncing"
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, header, "  ", badge))
	b.WriteString("\n")

	b.WriteString(panelStyle.Render(m.renderOutbox()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.renderCollections()))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.renderHistory()))
	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(errorStyle.Render("sync error: "+m.Err.Error()) + "\n")
	} else if m.LastResult != nil && !m.LastResult.Coalesced {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("last drain: %d completed, %d deferred, %d failed",
			m.LastResult.Completed, m.LastResult.Deferred, m.LastResult.Failed)) + "\n")
	}

	b.WriteString(helpStyle.Render("s: sync now  q: quit"))
	return b.String()
}

func (m Model) renderOutbox() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("Outbox"))
	b.WriteString("\n")
	if len(m.Pending) == 0 {
		b.WriteString(subtleStyle.Render("empty"))
		return b.String()
	}
	max := len(m.Pending)
	if max > 10 {
		max = 10
	}
	for _, op := range m.Pending[:max] {
		line := fmt.Sprintf("#%-4d %-6s %s/%s", op.ID, op.Operation, op.EntityType, shortID(op.EntityID))
		if op.LastError != nil {
			line += "  " + errorStyle.Render(op.LastError.Code)
			if op.Retries > 0 {
				line += subtleStyle.Render(fmt.Sprintf(" ×%d", op.Retries))
			}
		}
		b.WriteString(line + "\n")
	}
	if len(m.Pending) > max {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("… and %d more", len(m.Pending)-max)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderCollections() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("Collections"))
	b.WriteString("\n")
	if len(m.Counters) == 0 {
		b.WriteString(subtleStyle.Render("no delta counters yet"))
		return b.String()
	}
	for _, c := range m.Counters {
		mark := successStyle.Render("fresh")
		if c.Stale {
			mark = warningStyle.Render("stale")
		}
		b.WriteString(fmt.Sprintf("%-14s %6d  %s\n", c.Collection, c.ServerCount, mark))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("Recent drains"))
	b.WriteString("\n")
	if len(m.History) == 0 {
		b.WriteString(subtleStyle.Render("no drains recorded"))
		return b.String()
	}
	for _, h := range m.History {
		b.WriteString(fmt.Sprintf("%s  %-7s %d ok",
			h.FinishedAt.Local().Format(time.TimeOnly), h.Trigger, h.Completed))
		if h.Failed > 0 {
			b.WriteString(errorStyle.Render(fmt.Sprintf("  %d failed", h.Failed)))
		}
		if h.Deferred > 0 {
			b.WriteString(warningStyle.Render(fmt.Sprintf("  %d deferred", h.Deferred)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "…"
	}
	return id
}
