package db

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fieldtrace/ftrace/internal/models"
)

func TestEnqueueRequiresUserScope(t *testing.T) {
	db := setupDB(t)

	if _, err := db.Enqueue("", models.Actors, "loc-x", models.OpCreate, nil); !errors.Is(err, ErrMissingUserScope) {
		t.Errorf("enqueue without user: got %v, want ErrMissingUserScope", err)
	}
	if _, err := db.ListPending(""); !errors.Is(err, ErrMissingUserScope) {
		t.Errorf("list without user: got %v, want ErrMissingUserScope", err)
	}
	if _, err := db.OutboxCount(""); !errors.Is(err, ErrMissingUserScope) {
		t.Errorf("count without user: got %v, want ErrMissingUserScope", err)
	}
}

func TestUserIsolation(t *testing.T) {
	db := setupDB(t)

	if _, _, err := db.CreateEntity("u1", models.Actors, nil); err != nil {
		t.Fatalf("create for u1: %v", err)
	}
	if _, _, err := db.CreateEntity("u2", models.Actors, nil); err != nil {
		t.Fatalf("create for u2: %v", err)
	}

	u1, err := db.ListPending("u1")
	if err != nil {
		t.Fatalf("ListPending u1: %v", err)
	}
	u2, err := db.ListPending("u2")
	if err != nil {
		t.Fatalf("ListPending u2: %v", err)
	}
	if len(u1) != 1 || len(u2) != 1 {
		t.Fatalf("queue sizes: u1=%d u2=%d, want 1 each", len(u1), len(u2))
	}
	if u1[0].UserID != "u1" || u2[0].UserID != "u2" {
		t.Error("operations leaked across user scopes")
	}
}

func TestCollapseUpdateIntoPendingCreate(t *testing.T) {
	db := setupDB(t)

	e, createID, err := db.CreateEntity(testUser, models.Actors, json.RawMessage(`{"name":"v1"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	opID, err := db.UpdateEntity(testUser, models.Actors, e.LocalID, json.RawMessage(`{"name":"v2"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if opID != createID {
		t.Errorf("update collapsed into new entry %d, want create %d", opID, createID)
	}

	ops, err := db.ListPending(testUser)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("entries: got %d, want 1", len(ops))
	}
	if ops[0].Operation != models.OpCreate {
		t.Errorf("operation: got %q, want create", ops[0].Operation)
	}
	if !strings.Contains(string(ops[0].Payload), "v2") {
		t.Errorf("payload not replaced: %s", ops[0].Payload)
	}
}

func TestCollapseTwoUpdates(t *testing.T) {
	db := setupDB(t)

	e, opID, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Simulate the create having been acknowledged.
	if err := db.AckCreate(models.Actors, e.LocalID, "srv-1", opID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if _, err := db.UpdateEntity(testUser, models.Actors, e.LocalID, json.RawMessage(`{"quantity":100}`)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := db.UpdateEntity(testUser, models.Actors, e.LocalID, json.RawMessage(`{"quantity":120}`)); err != nil {
		t.Fatalf("second update: %v", err)
	}

	ops, err := db.ListPending(testUser)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("entries: got %d, want 1", len(ops))
	}
	if !strings.Contains(string(ops[0].Payload), "120") {
		t.Errorf("later payload must win: %s", ops[0].Payload)
	}
}

func TestDeleteCancelsPendingCreate(t *testing.T) {
	db := setupDB(t)

	e, _, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.UpdateEntity(testUser, models.Actors, e.LocalID, json.RawMessage(`{"name":"x"}`)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := db.DeleteEntity(testUser, models.Actors, e.LocalID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Nothing was ever created server-side, so nothing needs to be sent.
	count, err := db.OutboxCount(testUser)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("outbox count: got %d, want 0", count)
	}
}

func TestCollapseClearsSupersededError(t *testing.T) {
	db := setupDB(t)

	e, opID, err := db.CreateEntity(testUser, models.Actors, json.RawMessage(`{"name":"dup"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.RecordError(opID, "send", "DUPLICATE", "name taken", true); err != nil {
		t.Fatalf("record: %v", err)
	}

	// User edits the entity: the stuck snapshot is superseded.
	if _, err := db.UpdateEntity(testUser, models.Actors, e.LocalID, json.RawMessage(`{"name":"fixed"}`)); err != nil {
		t.Fatalf("update: %v", err)
	}

	ops, _ := db.ListPending(testUser)
	if len(ops) != 1 {
		t.Fatalf("entries: got %d, want 1", len(ops))
	}
	if ops[0].LastError != nil {
		t.Errorf("superseding edit must clear the error, got %+v", ops[0].LastError)
	}
	if ops[0].Terminal {
		t.Error("superseding edit must clear the terminal flag")
	}
}

func TestRecordErrorKeepsEntryAndCountsRetries(t *testing.T) {
	db := setupDB(t)

	_, opID, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := db.RecordError(opID, "send", "NETWORK", "connection refused", false); err != nil {
		t.Fatalf("record 1: %v", err)
	}
	if err := db.RecordError(opID, "send", "NETWORK", "connection refused", false); err != nil {
		t.Fatalf("record 2: %v", err)
	}

	ops, _ := db.ListPending(testUser)
	if len(ops) != 1 {
		t.Fatalf("failed entry was dropped")
	}
	if ops[0].Retries != 2 {
		t.Errorf("retries: got %d, want 2", ops[0].Retries)
	}
	if ops[0].LastError == nil || ops[0].LastError.Code != "NETWORK" || ops[0].LastError.Step != "send" {
		t.Errorf("last error: got %+v", ops[0].LastError)
	}
	if ops[0].LastError.Timestamp.IsZero() {
		t.Error("error timestamp not recorded")
	}
}

func TestCompleteIdempotent(t *testing.T) {
	db := setupDB(t)

	_, opID, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Complete(opID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Replaying a completion is a no-op.
	if err := db.Complete(opID); err != nil {
		t.Fatalf("replayed complete: %v", err)
	}
	count, _ := db.OutboxCount(testUser)
	if count != 0 {
		t.Errorf("count: got %d, want 0", count)
	}
}

func TestListPendingFIFO(t *testing.T) {
	db := setupDB(t)

	first, _, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("create 1: %v", err)
	}
	second, _, err := db.CreateEntity(testUser, models.Conventions, nil)
	if err != nil {
		t.Fatalf("create 2: %v", err)
	}

	ops, err := db.ListPending(testUser)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("entries: got %d, want 2", len(ops))
	}
	if ops[0].EntityID != first.LocalID || ops[1].EntityID != second.LocalID {
		t.Error("operations not in enqueue order")
	}
}

func TestLastErrorForEntity(t *testing.T) {
	db := setupDB(t)

	e, opID, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := db.LastErrorForEntity(testUser, models.Actors, e.LocalID)
	if err != nil || got != nil {
		t.Fatalf("before failure: got %+v (%v), want nil", got, err)
	}

	if err := db.RecordError(opID, "send", "VALIDATION", "quantity must be positive", true); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err = db.LastErrorForEntity(testUser, models.Actors, e.LocalID)
	if err != nil || got == nil {
		t.Fatalf("after failure: %v", err)
	}
	if got.Code != "VALIDATION" {
		t.Errorf("code: got %q", got.Code)
	}
}
