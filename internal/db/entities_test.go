package db

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/fieldtrace/ftrace/internal/models"
)

const testUser = "u1"

func TestCreateEntityAtomicEnqueue(t *testing.T) {
	db := setupDB(t)

	e, opID, err := db.CreateEntity(testUser, models.Actors, json.RawMessage(`{"name":"Ferme du Nord"}`))
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.LocalID == "" || !strings.HasPrefix(e.LocalID, "loc-") {
		t.Errorf("local id: got %q", e.LocalID)
	}
	if e.ServerID != "" {
		t.Errorf("new entity must not carry a server id, got %q", e.ServerID)
	}
	if opID == 0 {
		t.Error("enqueue returned no operation id")
	}

	// Both the mirror write and the outbox entry are visible.
	got, err := db.GetByLocalID(models.Actors, e.LocalID)
	if err != nil || got == nil {
		t.Fatalf("GetByLocalID: %v %v", got, err)
	}
	ops, err := db.ListPending(testUser)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != models.OpCreate || ops[0].EntityID != e.LocalID {
		t.Fatalf("outbox: got %+v", ops)
	}
}

func TestCreateEntityRejectsUnknownType(t *testing.T) {
	db := setupDB(t)
	if _, _, err := db.CreateEntity(testUser, "widgets", nil); err == nil {
		t.Fatal("unknown entity type accepted")
	}
	// Nothing may be visible after the rejection.
	count, _ := db.OutboxCount(testUser)
	if count != 0 {
		t.Errorf("outbox count after rejected create: got %d, want 0", count)
	}
}

func TestAssignServerIDWriteOnce(t *testing.T) {
	db := setupDB(t)
	e, _, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	if err := db.AssignServerID(models.Actors, e.LocalID, "srv-1"); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	// Same id again is an idempotent re-ack.
	if err := db.AssignServerID(models.Actors, e.LocalID, "srv-1"); err != nil {
		t.Fatalf("re-ack: %v", err)
	}
	// A different id is a programming error.
	if err := db.AssignServerID(models.Actors, e.LocalID, "srv-2"); err == nil {
		t.Fatal("second assignment with different id accepted")
	}

	got, err := db.GetByLocalID(models.Actors, e.LocalID)
	if err != nil || got == nil {
		t.Fatalf("GetByLocalID: %v", err)
	}
	if got.ServerID != "srv-1" {
		t.Errorf("server id: got %q, want srv-1", got.ServerID)
	}
}

func TestFindByIDOrLocalIDPrefersServerMatch(t *testing.T) {
	db := setupDB(t)

	// An entity whose server id collides with another entity's local id.
	a, _, err := db.CreateEntity(testUser, models.Actors, json.RawMessage(`{"name":"a"}`))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, _, err := db.CreateEntity(testUser, models.Actors, json.RawMessage(`{"name":"b"}`))
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	// b's server id is a's local id. Contrived, but exactly the false
	// remapping the lookup order must prevent.
	if err := db.AssignServerID(models.Actors, b.LocalID, a.LocalID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := db.FindByIDOrLocalID(models.Actors, a.LocalID)
	if err != nil || got == nil {
		t.Fatalf("find: %v", err)
	}
	if got.LocalID != b.LocalID {
		t.Errorf("exact server-id match must win: got %s, want %s", got.LocalID, b.LocalID)
	}
}

func TestDeleteEntitySnapshotsServerID(t *testing.T) {
	db := setupDB(t)
	e, opID, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := db.AckCreate(models.Actors, e.LocalID, "srv-9", opID); err != nil {
		t.Fatalf("AckCreate: %v", err)
	}

	if err := db.DeleteEntity(testUser, models.Actors, e.LocalID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}

	// Mirror row gone, delete queued with the server id captured.
	if got, _ := db.GetByLocalID(models.Actors, e.LocalID); got != nil {
		t.Error("mirror row still present after delete")
	}
	ops, err := db.ListPending(testUser)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(ops) != 1 || ops[0].Operation != models.OpDelete {
		t.Fatalf("outbox: got %+v", ops)
	}
	var snap struct {
		ServerID string `json:"server_id"`
	}
	if err := json.Unmarshal(ops[0].Payload, &snap); err != nil || snap.ServerID != "srv-9" {
		t.Errorf("delete snapshot: got %s (err %v), want server_id srv-9", ops[0].Payload, err)
	}
}

func TestSyncStatusDerivedFromOutbox(t *testing.T) {
	db := setupDB(t)
	e, opID, err := db.CreateEntity(testUser, models.Actors, nil)
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	status, err := db.SyncStatus(testUser, models.Actors, e.LocalID)
	if err != nil || status != models.StatusPending {
		t.Errorf("status with queued create: got %q (%v), want pending", status, err)
	}

	if err := db.RecordError(opID, "send", "DUPLICATE", "already exists", true); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	status, _ = db.SyncStatus(testUser, models.Actors, e.LocalID)
	if status != models.StatusError {
		t.Errorf("status with errored op: got %q, want error", status)
	}

	if err := db.Complete(opID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	status, _ = db.SyncStatus(testUser, models.Actors, e.LocalID)
	if status != models.StatusSynced {
		t.Errorf("status with empty queue: got %q, want synced", status)
	}
}

func TestListEntities(t *testing.T) {
	db := setupDB(t)

	local, _, err := db.CreateEntity(testUser, models.Actors, json.RawMessage(`{"name":"Farm A"}`))
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if err := db.UpsertFromServer(testUser, models.Actors, "srv-b", json.RawMessage(`{"id":"srv-b","name":"Farm B"}`)); err != nil {
		t.Fatalf("UpsertFromServer: %v", err)
	}
	// A different collection must not bleed into the listing.
	if _, _, err := db.CreateEntity(testUser, models.Campaigns, nil); err != nil {
		t.Fatalf("CreateEntity campaign: %v", err)
	}

	actors, err := db.ListEntities(models.Actors)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(actors) != 2 {
		t.Fatalf("actors: got %d, want 2", len(actors))
	}
	found := map[string]bool{}
	for _, e := range actors {
		if e.EntityType != models.Actors {
			t.Errorf("wrong type in listing: %+v", e)
		}
		found[e.LocalID] = true
	}
	if !found[local.LocalID] {
		t.Error("locally created record missing from listing")
	}
}

func TestUpsertFromServer(t *testing.T) {
	db := setupDB(t)

	// Unknown server id becomes a new, already-synced record.
	if err := db.UpsertFromServer(testUser, models.Campaigns, "srv-c1", json.RawMessage(`{"id":"srv-c1","name":"2026"}`)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := db.GetByServerID(models.Campaigns, "srv-c1")
	if err != nil || got == nil {
		t.Fatalf("GetByServerID: %v", err)
	}
	if !got.Synced() {
		t.Error("pulled record must be synced")
	}

	// Second upsert refreshes the payload on the same row.
	if err := db.UpsertFromServer(testUser, models.Campaigns, "srv-c1", json.RawMessage(`{"id":"srv-c1","name":"2027"}`)); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	again, _ := db.GetByServerID(models.Campaigns, "srv-c1")
	if again.LocalID != got.LocalID {
		t.Error("refresh created a second row")
	}
	if !strings.Contains(string(again.Payload), "2027") {
		t.Errorf("payload not refreshed: %s", again.Payload)
	}
}
