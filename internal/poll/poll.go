// Package poll tracks server-authoritative change counters per collection.
// A counter that moved since the last check marks the local mirror of that
// collection as stale, which the sync orchestrator reads as "pull before
// the next push". The poller never touches the outbox.
package poll

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/models"
	"github.com/fieldtrace/ftrace/internal/syncclient"
)

// Poller refreshes delta counter snapshots from the server.
type Poller struct {
	db          *db.DB
	client      *syncclient.Client
	collections []string
}

// New creates a poller over the default tracked collections.
func New(database *db.DB, client *syncclient.Client) *Poller {
	return &Poller{
		db:          database,
		client:      client,
		collections: models.DeltaCollections,
	}
}

// CheckResult summarises one counter refresh.
type CheckResult struct {
	Checked int
	Stale   []string
	At      time.Time
}

// ForceCheck fetches the counters for all tracked collections and flags
// the ones whose server count moved since the previous snapshot. A
// collection seen for the first time is flagged stale as well: there is no
// basis to assume the local mirror is current.
func (p *Poller) ForceCheck() (*CheckResult, error) {
	counts, err := p.client.Deltas()
	if err != nil {
		return nil, fmt.Errorf("fetch deltas: %w", err)
	}

	byCollection := make(map[string]int64, len(counts))
	for _, c := range counts {
		byCollection[c.Collection] = c.Count
	}

	result := &CheckResult{At: time.Now().UTC()}
	for _, collection := range p.collections {
		count, ok := byCollection[collection]
		if !ok {
			continue // server does not track this collection
		}
		prev, err := p.db.GetDeltaCounter(collection)
		if err != nil {
			return nil, err
		}
		stale := prev == nil || prev.ServerCount != count
		// A collection already flagged stays stale until pulled, even if
		// the count happens to match again.
		if prev != nil && prev.Stale {
			stale = true
		}
		if err := p.db.UpsertDeltaCounter(collection, count, stale); err != nil {
			return nil, err
		}
		result.Checked++
		if stale {
			result.Stale = append(result.Stale, collection)
		}
	}

	slog.Debug("delta check", "checked", result.Checked, "stale", len(result.Stale))
	return result, nil
}

// StaleCollections returns the collections currently flagged as behind.
func (p *Poller) StaleCollections() ([]string, error) {
	return p.db.StaleCollections()
}
