package resolve

import (
	"testing"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/models"
)

func setupResolver(t *testing.T) (*db.DB, *Resolver) {
	t.Helper()
	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, New(database)
}

func TestResolveUnsyncedLocalID(t *testing.T) {
	database, r := setupResolver(t)

	e, _, err := database.CreateEntity("u1", models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.Resolve(models.Actors, e.LocalID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != e.LocalID {
		t.Errorf("unsynced local id must pass through: got %q, want %q", got, e.LocalID)
	}

	unresolved, err := r.Unresolved(models.Actors, e.LocalID)
	if err != nil {
		t.Fatalf("unresolved: %v", err)
	}
	if !unresolved {
		t.Error("local-only record must report unresolved")
	}
}

func TestResolveSyncedLocalID(t *testing.T) {
	database, r := setupResolver(t)

	e, opID, err := database.CreateEntity("u1", models.Actors, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := database.AckCreate(models.Actors, e.LocalID, "srv-42", opID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	got, err := r.Resolve(models.Actors, e.LocalID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "srv-42" {
		t.Errorf("resolve: got %q, want srv-42", got)
	}

	unresolved, err := r.Unresolved(models.Actors, e.LocalID)
	if err != nil {
		t.Fatalf("unresolved: %v", err)
	}
	if unresolved {
		t.Error("synced record must not report unresolved")
	}
}

func TestResolveServerIDPassthrough(t *testing.T) {
	database, r := setupResolver(t)

	if err := database.UpsertFromServer("u1", models.Actors, "srv-7", nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := r.Resolve(models.Actors, "srv-7")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "srv-7" {
		t.Errorf("server id must pass through: got %q", got)
	}
}

// A server id that happens to equal some other record's local id must not
// be remapped through that record.
func TestResolvePrefersServerMatchOnCollision(t *testing.T) {
	database, r := setupResolver(t)

	local, localOp, err := database.CreateEntity("u1", models.Actors, nil)
	if err != nil {
		t.Fatalf("create local: %v", err)
	}
	if err := database.AckCreate(models.Actors, local.LocalID, "srv-real", localOp); err != nil {
		t.Fatalf("ack local: %v", err)
	}
	// Another record whose server id collides with the first record's
	// local id.
	if err := database.UpsertFromServer("u1", models.Actors, local.LocalID, nil); err != nil {
		t.Fatalf("upsert colliding: %v", err)
	}

	got, err := r.Resolve(models.Actors, local.LocalID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != local.LocalID {
		t.Errorf("colliding id resolved through local index: got %q, want %q", got, local.LocalID)
	}
}

func TestResolveUnknownID(t *testing.T) {
	_, r := setupResolver(t)

	got, err := r.Resolve(models.Actors, "srv-never-seen")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "srv-never-seen" {
		t.Errorf("unknown id must pass through: got %q", got)
	}

	unresolved, err := r.Unresolved(models.Actors, "srv-never-seen")
	if err != nil {
		t.Fatalf("unresolved: %v", err)
	}
	if unresolved {
		t.Error("unknown non-local id must not report unresolved")
	}
}

func TestUnresolvedUnknownLocalID(t *testing.T) {
	_, r := setupResolver(t)

	// A local-shaped id with no mirror record: nothing to wait for.
	unresolved, err := r.Unresolved(models.Actors, "loc-ghost")
	if err != nil {
		t.Fatalf("unresolved: %v", err)
	}
	if unresolved {
		t.Error("local id without a record must not report unresolved")
	}
}
