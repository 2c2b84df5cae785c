package monitor

import (
	"time"

	"github.com/fieldtrace/ftrace/internal/db"
)

// RefreshDataMsg carries one snapshot of everything the monitor displays.
type RefreshDataMsg struct {
	Count     int64
	Pending   []db.PendingOp
	Counters  []db.DeltaCounter
	History   []db.SyncHistoryEntry
	Timestamp time.Time
}

// FetchData retrieves the current outbox and sync state for display.
func FetchData(database *db.DB, userID string) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}

	msg.Count, _ = database.OutboxCount(userID)
	msg.Pending, _ = database.ListPending(userID)
	msg.Counters, _ = database.ListDeltaCounters()
	msg.History, _ = database.GetSyncHistoryTail(8)

	return msg
}
