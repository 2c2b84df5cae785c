package db

import (
	"fmt"
	"time"
)

// SyncHistoryEntry records the outcome of one drain pass.
type SyncHistoryEntry struct {
	ID         int64
	Trigger    string // "force", "timer", "online", "session"
	StartedAt  time.Time
	FinishedAt time.Time
	Sent       int
	Completed  int
	Deferred   int
	Failed     int
	Blocked    int
}

// RecordSyncHistory appends a drain outcome to the audit trail.
func (db *DB) RecordSyncHistory(e SyncHistoryEntry) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`
			INSERT INTO sync_history (trigger_kind, started_at, finished_at, sent, completed, deferred, failed, blocked)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.Trigger, e.StartedAt, e.FinishedAt, e.Sent, e.Completed, e.Deferred, e.Failed, e.Blocked)
		if err != nil {
			return fmt.Errorf("record sync history: %w", err)
		}
		return nil
	})
}

// GetSyncHistoryTail returns the last N drain outcomes, oldest first.
func (db *DB) GetSyncHistoryTail(limit int) ([]SyncHistoryEntry, error) {
	rows, err := db.conn.Query(`
		SELECT id, trigger_kind, started_at, finished_at, sent, completed, deferred, failed, blocked
		FROM (
			SELECT * FROM sync_history ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sync history tail: %w", err)
	}
	defer rows.Close()

	var out []SyncHistoryEntry
	for rows.Next() {
		var e SyncHistoryEntry
		var started, finished string
		if err := rows.Scan(&e.ID, &e.Trigger, &started, &finished,
			&e.Sent, &e.Completed, &e.Deferred, &e.Failed, &e.Blocked); err != nil {
			return nil, fmt.Errorf("scan sync history: %w", err)
		}
		if e.StartedAt, err = parseTimestamp(started); err != nil {
			return nil, err
		}
		if e.FinishedAt, err = parseTimestamp(finished); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastSyncAt returns the finish time of the most recent drain, or nil.
func (db *DB) LastSyncAt() (*time.Time, error) {
	tail, err := db.GetSyncHistoryTail(1)
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, nil
	}
	return &tail[0].FinishedAt, nil
}
