package db

import (
	"database/sql"
	"fmt"
	"time"
)

// DeltaCounter is the last known server-side count for one collection,
// plus the staleness verdict from the most recent check.
type DeltaCounter struct {
	Collection    string
	ServerCount   int64
	LastCheckedAt *time.Time
	Stale         bool
}

// GetDeltaCounter returns the snapshot for one collection, or nil if the
// collection has never been checked.
func (db *DB) GetDeltaCounter(collection string) (*DeltaCounter, error) {
	var c DeltaCounter
	var checked sql.NullString
	var stale int
	err := db.conn.QueryRow(`
		SELECT collection, server_count, last_checked_at, stale
		FROM delta_counters WHERE collection = ?
	`, collection).Scan(&c.Collection, &c.ServerCount, &checked, &stale)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delta counter: %w", err)
	}
	c.Stale = stale != 0
	if checked.Valid {
		if t, perr := parseTimestamp(checked.String); perr == nil {
			c.LastCheckedAt = &t
		}
	}
	return &c, nil
}

// UpsertDeltaCounter records a fresh server count and staleness verdict.
func (db *DB) UpsertDeltaCounter(collection string, serverCount int64, stale bool) error {
	return db.withWriteLock(func() error {
		s := 0
		if stale {
			s = 1
		}
		_, err := db.conn.Exec(`
			INSERT INTO delta_counters (collection, server_count, last_checked_at, stale)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(collection) DO UPDATE SET
				server_count = excluded.server_count,
				last_checked_at = excluded.last_checked_at,
				stale = excluded.stale
		`, collection, serverCount, time.Now().UTC(), s)
		if err != nil {
			return fmt.Errorf("upsert delta counter: %w", err)
		}
		return nil
	})
}

// MarkCollectionFresh clears the stale flag after a pull.
func (db *DB) MarkCollectionFresh(collection string) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`UPDATE delta_counters SET stale = 0 WHERE collection = ?`, collection)
		return err
	})
}

// ListDeltaCounters returns all snapshots, ordered by collection name.
func (db *DB) ListDeltaCounters() ([]DeltaCounter, error) {
	rows, err := db.conn.Query(`
		SELECT collection, server_count, last_checked_at, stale
		FROM delta_counters ORDER BY collection
	`)
	if err != nil {
		return nil, fmt.Errorf("list delta counters: %w", err)
	}
	defer rows.Close()

	var out []DeltaCounter
	for rows.Next() {
		var c DeltaCounter
		var checked sql.NullString
		var stale int
		if err := rows.Scan(&c.Collection, &c.ServerCount, &checked, &stale); err != nil {
			return nil, fmt.Errorf("scan delta counter: %w", err)
		}
		c.Stale = stale != 0
		if checked.Valid {
			if t, perr := parseTimestamp(checked.String); perr == nil {
				c.LastCheckedAt = &t
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StaleCollections returns the collections flagged as behind the server.
func (db *DB) StaleCollections() ([]string, error) {
	rows, err := db.conn.Query(`SELECT collection FROM delta_counters WHERE stale = 1 ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("stale collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
