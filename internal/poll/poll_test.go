package poll

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/models"
	"github.com/fieldtrace/ftrace/internal/syncclient"
)

type fakeDeltas struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeDeltas) set(collection string, count int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[collection] = count
}

func (f *fakeDeltas) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]syncclient.DeltaCount, 0, len(f.counts))
	for c, n := range f.counts {
		out = append(out, syncclient.DeltaCount{Collection: c, Count: n})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func setupPoller(t *testing.T, deltas *fakeDeltas) (*db.DB, *Poller) {
	t.Helper()
	database, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("initialize db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	srv := httptest.NewServer(deltas)
	t.Cleanup(srv.Close)

	return database, New(database, syncclient.New(srv.URL, "key", "dev"))
}

func TestFirstCheckFlagsStale(t *testing.T) {
	deltas := &fakeDeltas{counts: map[string]int64{models.Actors: 3}}
	_, p := setupPoller(t, deltas)

	result, err := p.ForceCheck()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Checked != 1 {
		t.Errorf("checked: got %d, want 1", result.Checked)
	}
	if len(result.Stale) != 1 || result.Stale[0] != models.Actors {
		t.Errorf("first sighting must be stale, got %+v", result.Stale)
	}
}

func TestUnchangedCountStaysFresh(t *testing.T) {
	deltas := &fakeDeltas{counts: map[string]int64{models.Actors: 3}}
	database, p := setupPoller(t, deltas)

	if _, err := p.ForceCheck(); err != nil {
		t.Fatalf("baseline check: %v", err)
	}
	if err := database.MarkCollectionFresh(models.Actors); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}

	result, err := p.ForceCheck()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(result.Stale) != 0 {
		t.Errorf("unchanged count flagged stale: %+v", result.Stale)
	}
}

func TestMovedCountFlagsStale(t *testing.T) {
	deltas := &fakeDeltas{counts: map[string]int64{models.Actors: 3}}
	database, p := setupPoller(t, deltas)

	if _, err := p.ForceCheck(); err != nil {
		t.Fatalf("baseline check: %v", err)
	}
	if err := database.MarkCollectionFresh(models.Actors); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}

	deltas.set(models.Actors, 4)
	result, err := p.ForceCheck()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(result.Stale) != 1 {
		t.Errorf("moved count not flagged: %+v", result.Stale)
	}
}

// Once flagged, a collection stays stale until actually pulled, even when
// the server count drifts back to the last-seen value.
func TestStaleFlagSticks(t *testing.T) {
	deltas := &fakeDeltas{counts: map[string]int64{models.Actors: 3}}
	database, p := setupPoller(t, deltas)

	if _, err := p.ForceCheck(); err != nil {
		t.Fatalf("baseline check: %v", err)
	}
	if err := database.MarkCollectionFresh(models.Actors); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}

	deltas.set(models.Actors, 4)
	if _, err := p.ForceCheck(); err != nil {
		t.Fatalf("moved check: %v", err)
	}
	deltas.set(models.Actors, 4) // stable again, but never pulled
	result, err := p.ForceCheck()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(result.Stale) != 1 {
		t.Errorf("stale flag must persist until pulled: %+v", result.Stale)
	}

	stale, err := p.StaleCollections()
	if err != nil {
		t.Fatalf("stale collections: %v", err)
	}
	if len(stale) != 1 || stale[0] != models.Actors {
		t.Errorf("stale collections: %v", stale)
	}
}

func TestUntrackedCollectionIgnored(t *testing.T) {
	deltas := &fakeDeltas{counts: map[string]int64{"unknown_things": 9}}
	_, p := setupPoller(t, deltas)

	result, err := p.ForceCheck()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Checked != 0 || len(result.Stale) != 0 {
		t.Errorf("untracked collection must be skipped: %+v", result)
	}
}
