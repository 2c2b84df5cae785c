// Package monitor is the live sync dashboard: outbox depth, queued
// operations with their errors, collection staleness and recent drain
// history, refreshed on a timer. A keypress triggers a forced drain.
package monitor

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/sync"
)

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// TickMsg triggers a data refresh
type TickMsg time.Time

// SyncDoneMsg reports the outcome of a manually triggered drain.
type SyncDoneMsg struct {
	Result *sync.DrainResult
	Err    error
}

// Model is the Bubble Tea model for the sync monitor.
type Model struct {
	DB     *db.DB
	Orch   *sync.Orchestrator
	UserID string

	Width  int
	Height int

	Count    int64
	Pending  []db.PendingOp
	Counters []db.DeltaCounter
	History  []db.SyncHistoryEntry

	Spinner     spinner.Model
	Syncing     bool
	LastResult  *sync.DrainResult
	LastRefresh time.Time
	Err         error

	RefreshInterval time.Duration
}

// NewModel creates a monitor model.
func NewModel(database *db.DB, orch *sync.Orchestrator, userID string, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		DB:              database,
		Orch:            orch,
		UserID:          userID,
		Spinner:         sp,
		RefreshInterval: interval,
	}
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.tickCmd(), m.Spinner.Tick)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "s":
			if !m.Syncing {
				m.Syncing = true
				return m, m.syncCmd()
			}
		}
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), m.tickCmd())

	case RefreshDataMsg:
		m.Count = msg.Count
		m.Pending = msg.Pending
		m.Counters = msg.Counters
		m.History = msg.History
		m.LastRefresh = msg.Timestamp
		return m, nil

	case SyncDoneMsg:
		m.Syncing = false
		m.LastResult = msg.Result
		m.Err = msg.Err
		return m, m.refreshCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	database, userID := m.DB, m.UserID
	return func() tea.Msg {
		return FetchData(database, userID)
	}
}

func (m Model) syncCmd() tea.Cmd {
	orch := m.Orch
	return func() tea.Msg {
		result, err := orch.Drain(sync.TriggerForce)
		return SyncDoneMsg{Result: result, Err: err}
	}
}
