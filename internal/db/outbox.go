package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrace/ftrace/internal/models"
)

// ErrMissingUserScope is returned when an outbox read or write arrives
// without a user id. Every outbox query must be scoped: multiple accounts
// can share one device sequentially, and leaking another account's queue
// is a security violation, not a recoverable condition.
var ErrMissingUserScope = errors.New("outbox access without user scope")

// PendingOp is one outbox entry: a not-yet-acknowledged mutation against a
// single entity, with its payload snapshot captured at enqueue time.
type PendingOp struct {
	ID         int64
	UserID     string
	EntityType string
	EntityID   string // local_id of the affected record
	Operation  string
	Payload    json.RawMessage
	Timestamp  time.Time
	Retries    int
	LastError  *models.OpError // nil when never failed
	Terminal   bool            // structured server rejection; not retried automatically
}

// Enqueue appends an operation to the caller's queue. Exposed for tests
// and for callers that manage their own mirror writes; normal mutations go
// through CreateEntity/UpdateEntity/DeleteEntity, which enqueue inside the
// same transaction as the mirror write.
func (db *DB) Enqueue(userID, entityType, entityID, operation string, payload json.RawMessage) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUserScope
	}
	var opID int64
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		opID, err = enqueueTx(tx, userID, entityType, entityID, operation, payload)
		return err
	})
	return opID, err
}

// enqueueTx inserts an outbox entry, applying the collapsing rules:
//   - an update lands on an entity with an unsent create or update: the new
//     payload replaces the existing snapshot instead of a second entry;
//   - a delete lands on an entity with only an unsent create: both vanish,
//     nothing was ever created server-side so nothing needs to be sent.
//
// A collapse clears the entry's last error: the stuck snapshot has been
// superseded by the user's newer data.
func enqueueTx(tx *sql.Tx, userID, entityType, entityID, operation string, payload json.RawMessage) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUserScope
	}
	if !models.ValidOperation(operation) {
		return 0, fmt.Errorf("unknown operation: %q", operation)
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	switch operation {
	case models.OpUpdate:
		var existingID int64
		err := tx.QueryRow(`
			SELECT id FROM outbox
			WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND operation IN ('create','update')
			ORDER BY timestamp ASC, id ASC LIMIT 1
		`, userID, entityType, entityID).Scan(&existingID)
		if err != nil && err != sql.ErrNoRows {
			return 0, fmt.Errorf("collapse lookup: %w", err)
		}
		if err == nil {
			_, err = tx.Exec(`
				UPDATE outbox SET payload = ?,
					error_code = '', error_message = '', error_step = '', error_at = NULL, error_terminal = 0
				WHERE id = ?
			`, string(payload), existingID)
			if err != nil {
				return 0, fmt.Errorf("collapse update: %w", err)
			}
			return existingID, nil
		}

	case models.OpDelete:
		var createID int64
		err := tx.QueryRow(`
			SELECT id FROM outbox
			WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND operation = 'create'
			LIMIT 1
		`, userID, entityType, entityID).Scan(&createID)
		if err != nil && err != sql.ErrNoRows {
			return 0, fmt.Errorf("collapse lookup: %w", err)
		}
		if err == nil {
			// Entity never reached the server: cancel everything queued for it.
			_, err = tx.Exec(`DELETE FROM outbox WHERE user_id = ? AND entity_type = ? AND entity_id = ?`,
				userID, entityType, entityID)
			if err != nil {
				return 0, fmt.Errorf("cancel pending create: %w", err)
			}
			return 0, nil
		}
		// Pending updates are pointless once the entity is being deleted.
		_, err = tx.Exec(`DELETE FROM outbox WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND operation = 'update'`,
			userID, entityType, entityID)
		if err != nil {
			return 0, fmt.Errorf("drop superseded updates: %w", err)
		}
	}

	res, err := tx.Exec(`
		INSERT INTO outbox (user_id, entity_type, entity_id, operation, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, entityType, entityID, operation, string(payload), time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	opID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue id: %w", err)
	}
	return opID, nil
}

// ListPending returns the caller's queued operations in enqueue order.
func (db *DB) ListPending(userID string) ([]PendingOp, error) {
	if userID == "" {
		return nil, ErrMissingUserScope
	}
	return db.queryOps(`
		SELECT id, user_id, entity_type, entity_id, operation, payload, timestamp,
		       retries, error_code, error_message, COALESCE(error_step,''), error_at, error_terminal
		FROM outbox WHERE user_id = ?
		ORDER BY timestamp ASC, id ASC
	`, userID)
}

// ListOperationsForEntity returns the queued operations for one entity.
func (db *DB) ListOperationsForEntity(userID, entityType, entityID string) ([]PendingOp, error) {
	if userID == "" {
		return nil, ErrMissingUserScope
	}
	return db.queryOps(`
		SELECT id, user_id, entity_type, entity_id, operation, payload, timestamp,
		       retries, error_code, error_message, COALESCE(error_step,''), error_at, error_terminal
		FROM outbox WHERE user_id = ? AND entity_type = ? AND entity_id = ?
		ORDER BY timestamp ASC, id ASC
	`, userID, entityType, entityID)
}

// RecordError attaches a structured error to an entry and bumps its retry
// counter. The entry stays queued: failed operations are never silently
// dropped, they remain visible until acknowledged or superseded.
func (db *DB) RecordError(opID int64, step, code, message string, terminal bool) error {
	return db.withWriteLock(func() error {
		t := 0
		if terminal {
			t = 1
		}
		res, err := db.conn.Exec(`
			UPDATE outbox SET retries = retries + 1,
				error_code = ?, error_message = ?, error_step = ?, error_at = ?, error_terminal = ?
			WHERE id = ?
		`, code, message, step, time.Now().UTC(), t, opID)
		if err != nil {
			return fmt.Errorf("record error: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record error: operation %d not found", opID)
		}
		return nil
	})
}

// Complete removes an acknowledged entry. Completing an id that is already
// gone is a no-op, so replays after a crash between send and commit are
// harmless.
func (db *DB) Complete(opID int64) error {
	return db.withWriteLock(func() error {
		_, err := db.conn.Exec(`DELETE FROM outbox WHERE id = ?`, opID)
		if err != nil {
			return fmt.Errorf("complete: %w", err)
		}
		return nil
	})
}

// completeTx removes an entry inside a larger transaction (server-id
// assignment and completion commit together).
func completeTx(tx *sql.Tx, opID int64) error {
	if _, err := tx.Exec(`DELETE FROM outbox WHERE id = ?`, opID); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

// OutboxCount returns the caller's queue depth, for badge displays.
func (db *DB) OutboxCount(userID string) (int64, error) {
	if userID == "" {
		return 0, ErrMissingUserScope
	}
	var count int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM outbox WHERE user_id = ?`, userID).Scan(&count)
	return count, err
}

// LastErrorForEntity returns the most recent structured error recorded for
// an entity's queued operations, or nil if none failed.
func (db *DB) LastErrorForEntity(userID, entityType, entityID string) (*models.OpError, error) {
	if userID == "" {
		return nil, ErrMissingUserScope
	}
	ops, err := db.ListOperationsForEntity(userID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	var last *models.OpError
	for i := range ops {
		if ops[i].LastError != nil {
			last = ops[i].LastError
		}
	}
	return last, nil
}

func (db *DB) queryOps(query string, args ...any) ([]PendingOp, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var ops []PendingOp
	for rows.Next() {
		var op PendingOp
		var payload, ts, errCode, errMsg, errStep string
		var errAt sql.NullString
		var terminal int
		if err := rows.Scan(&op.ID, &op.UserID, &op.EntityType, &op.EntityID, &op.Operation,
			&payload, &ts, &op.Retries, &errCode, &errMsg, &errStep, &errAt, &terminal); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		op.Payload = json.RawMessage(payload)
		op.Terminal = terminal != 0
		if op.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("parse outbox timestamp: %w", err)
		}
		if errCode != "" {
			opErr := &models.OpError{Code: errCode, Message: errMsg, Step: errStep}
			if errAt.Valid {
				if at, perr := parseTimestamp(errAt.String); perr == nil {
					opErr.Timestamp = at
				}
			}
			op.LastError = opErr
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
