package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldtrace/ftrace/internal/models"
)

const localIDPrefix = "loc-"

// Entity is a mirror record: the local copy of a server resource with its
// dual identity. ServerID is empty until the create has been acknowledged,
// and is assigned exactly once.
type Entity struct {
	LocalID    string
	EntityType string
	ServerID   string // empty = not yet assigned
	UserID     string
	Payload    json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Synced reports whether the record has been acknowledged by the server.
func (e *Entity) Synced() bool {
	return e.ServerID != ""
}

// generateLocalID creates a client-side entity identifier.
func generateLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated client-side.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// CreateEntity inserts a mirror record and enqueues the create operation in
// a single transaction. Either both are visible afterwards or neither.
func (db *DB) CreateEntity(userID, entityType string, payload json.RawMessage) (*Entity, int64, error) {
	if userID == "" {
		return nil, 0, ErrMissingUserScope
	}
	if !models.ValidEntityType(entityType) {
		return nil, 0, fmt.Errorf("unknown entity type: %q", entityType)
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	e := &Entity{
		LocalID:    generateLocalID(),
		EntityType: entityType,
		UserID:     userID,
		Payload:    payload,
	}

	var opID int64
	err := db.withTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.Exec(`
			INSERT INTO entities (local_id, entity_type, user_id, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.LocalID, entityType, userID, string(payload), now, now)
		if err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		opID, err = enqueueTx(tx, userID, entityType, e.LocalID, models.OpCreate, payload)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return e, opID, nil
}

// UpdateEntity writes a new payload onto the mirror record and enqueues the
// update, atomically. The id may be a local or a server identifier.
// Collapsing applies: a pending create absorbs the new payload instead of a
// second outbox entry appearing.
func (db *DB) UpdateEntity(userID, entityType, id string, payload json.RawMessage) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUserScope
	}
	e, err := db.FindByIDOrLocalID(entityType, id)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, fmt.Errorf("%s %s: not found", entityType, id)
	}

	var opID int64
	err = db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE entities SET payload = ?, updated_at = ? WHERE local_id = ?
		`, string(payload), time.Now().UTC(), e.LocalID)
		if err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
		opID, err = enqueueTx(tx, userID, entityType, e.LocalID, models.OpUpdate, payload)
		return err
	})
	return opID, err
}

// DeleteEntity removes the mirror record and enqueues the delete,
// atomically. If the entity only ever existed locally (pending create,
// never acknowledged), nothing is queued: the create is cancelled and no
// request will be sent.
func (db *DB) DeleteEntity(userID, entityType, id string) error {
	if userID == "" {
		return ErrMissingUserScope
	}
	e, err := db.FindByIDOrLocalID(entityType, id)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("%s %s: not found", entityType, id)
	}

	// The mirror row is gone after this transaction, so the delete snapshot
	// must carry the server id the orchestrator will address.
	var snapshot json.RawMessage
	if e.Synced() {
		snapshot, _ = json.Marshal(map[string]string{"server_id": e.ServerID})
	}

	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM entities WHERE local_id = ?`, e.LocalID); err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		_, err := enqueueTx(tx, userID, entityType, e.LocalID, models.OpDelete, snapshot)
		return err
	})
}

// GetByLocalID returns the mirror record with the given local id, or nil.
func (db *DB) GetByLocalID(entityType, localID string) (*Entity, error) {
	return db.queryEntity(`SELECT local_id, entity_type, COALESCE(server_id,''), user_id, payload, created_at, updated_at
		FROM entities WHERE entity_type = ? AND local_id = ?`, entityType, localID)
}

// GetByServerID returns the mirror record with the given server id, or nil.
func (db *DB) GetByServerID(entityType, serverID string) (*Entity, error) {
	if serverID == "" {
		return nil, nil
	}
	return db.queryEntity(`SELECT local_id, entity_type, COALESCE(server_id,''), user_id, payload, created_at, updated_at
		FROM entities WHERE entity_type = ? AND server_id = ?`, entityType, serverID)
}

// FindByIDOrLocalID looks a record up by either identity. The server-id
// index is consulted first so an intentionally-passed server id can never
// be remapped by an unrelated local id with the same string.
func (db *DB) FindByIDOrLocalID(entityType, id string) (*Entity, error) {
	e, err := db.GetByServerID(entityType, id)
	if err != nil || e != nil {
		return e, err
	}
	return db.GetByLocalID(entityType, id)
}

// ListEntities returns all mirror records of one type, newest first.
func (db *DB) ListEntities(entityType string) ([]Entity, error) {
	rows, err := db.conn.Query(`SELECT local_id, entity_type, COALESCE(server_id,''), user_id, payload, created_at, updated_at
		FROM entities WHERE entity_type = ? ORDER BY created_at DESC`, entityType)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// AssignServerID records the server identity on a mirror record. The
// assignment happens exactly once; a second call with a different id is a
// programming error and is rejected.
func (db *DB) AssignServerID(entityType, localID, serverID string) error {
	if serverID == "" {
		return fmt.Errorf("assign server id %s/%s: empty server id", entityType, localID)
	}
	return db.withTx(func(tx *sql.Tx) error {
		return assignServerIDTx(tx, entityType, localID, serverID)
	})
}

// assignServerIDTx enforces the write-once invariant inside a transaction.
func assignServerIDTx(tx *sql.Tx, entityType, localID, serverID string) error {
	var existing sql.NullString
	err := tx.QueryRow(`SELECT server_id FROM entities WHERE entity_type = ? AND local_id = ?`,
		entityType, localID).Scan(&existing)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assign server id: %s/%s not found", entityType, localID)
	}
	if err != nil {
		return fmt.Errorf("assign server id: %w", err)
	}
	if existing.Valid && existing.String != "" {
		if existing.String == serverID {
			return nil // idempotent re-ack
		}
		return fmt.Errorf("assign server id: %s/%s already has server id %s", entityType, localID, existing.String)
	}
	_, err = tx.Exec(`UPDATE entities SET server_id = ?, updated_at = ? WHERE entity_type = ? AND local_id = ?`,
		serverID, time.Now().UTC(), entityType, localID)
	if err != nil {
		return fmt.Errorf("assign server id: %w", err)
	}
	return nil
}

// AckCreate records a server acknowledgement of a create: the returned
// server id is assigned (write-once) and the outbox entry removed, in one
// transaction. Re-acking with the same server id is a no-op.
func (db *DB) AckCreate(entityType, localID, serverID string, opID int64) error {
	return db.withTx(func(tx *sql.Tx) error {
		if err := assignServerIDTx(tx, entityType, localID, serverID); err != nil {
			return err
		}
		return completeTx(tx, opID)
	})
}

// UpsertFromServer persists a server-authoritative record during a pull.
// A row with a matching server id gets its payload refreshed; an unknown
// server id becomes a new, already-synced mirror record.
func (db *DB) UpsertFromServer(userID, entityType, serverID string, payload json.RawMessage) error {
	if serverID == "" {
		return fmt.Errorf("upsert from server: empty server id")
	}
	return db.withTx(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.Exec(`UPDATE entities SET payload = ?, updated_at = ? WHERE entity_type = ? AND server_id = ?`,
			string(payload), now, entityType, serverID)
		if err != nil {
			return fmt.Errorf("refresh %s/%s: %w", entityType, serverID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		_, err = tx.Exec(`
			INSERT INTO entities (local_id, entity_type, server_id, user_id, payload, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, generateLocalID(), entityType, serverID, userID, string(payload), now, now)
		if err != nil {
			return fmt.Errorf("insert pulled %s/%s: %w", entityType, serverID, err)
		}
		return nil
	})
}

// SyncStatus derives the display status of a record from the outbox, which
// is authoritative for pending/error state.
func (db *DB) SyncStatus(userID, entityType, localID string) (string, error) {
	if userID == "" {
		return "", ErrMissingUserScope
	}
	var hasError int
	err := db.conn.QueryRow(`
		SELECT COALESCE(MAX(CASE WHEN error_code != '' THEN 1 ELSE 0 END), -1)
		FROM outbox WHERE user_id = ? AND entity_type = ? AND entity_id = ?
	`, userID, entityType, localID).Scan(&hasError)
	if err != nil {
		return "", fmt.Errorf("sync status: %w", err)
	}
	switch hasError {
	case -1:
		return models.StatusSynced, nil
	case 0:
		return models.StatusPending, nil
	default:
		return models.StatusError, nil
	}
}

func (db *DB) queryEntity(query string, args ...any) (*Entity, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entity: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanEntity(rows)
}

func scanEntity(rows *sql.Rows) (*Entity, error) {
	var e Entity
	var payload, createdAt, updatedAt string
	if err := rows.Scan(&e.LocalID, &e.EntityType, &e.ServerID, &e.UserID, &payload, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	var err error
	if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &e, nil
}

// parseTimestamp tries common SQLite timestamp formats.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05 -0700 -0700",           // Go time.Time.String() with numeric tz
		"2006-01-02 15:04:05 -0700 MST",             // Go time.Time.String() standard
		"2006-01-02 15:04:05.999999999 -0700 MST",   // Go time.Time.String() with fraction
		"2006-01-02 15:04:05.999999999 -0700 -0700",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
