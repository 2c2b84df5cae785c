// Package sync drains the outbox to the remote API: foreign references are
// resolved immediately before each send, dependent creates are deferred to
// the end of the pass, failures are contained per operation, and drain
// passes are serialized so two triggers never race over the same entry.
package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldtrace/ftrace/internal/db"
	"github.com/fieldtrace/ftrace/internal/models"
	"github.com/fieldtrace/ftrace/internal/poll"
	"github.com/fieldtrace/ftrace/internal/resolve"
	"github.com/fieldtrace/ftrace/internal/syncclient"
)

// Orchestrator owns the push cycle for one user's outbox.
type Orchestrator struct {
	db       *db.DB
	client   *syncclient.Client
	resolver *resolve.Resolver
	poller   *poll.Poller // optional; nil skips pull-before-push
	userID   string

	mu       sync.Mutex
	draining bool
	rerun    bool
}

// New creates an orchestrator scoped to userID.
func New(database *db.DB, client *syncclient.Client, poller *poll.Poller, userID string) *Orchestrator {
	return &Orchestrator{
		db:       database,
		client:   client,
		resolver: resolve.New(database),
		poller:   poller,
		userID:   userID,
	}
}

// Drain runs one full pass over the outbox. Passes are serialized: a
// trigger that arrives while a drain is in flight is coalesced into "run
// again after the current pass", never started in parallel — that would
// break the one-in-flight-per-entity guarantee and double-process deferred
// operations.
func (o *Orchestrator) Drain(trigger string) (*DrainResult, error) {
	o.mu.Lock()
	if o.draining {
		o.rerun = true
		o.mu.Unlock()
		return &DrainResult{Trigger: trigger, Coalesced: true}, nil
	}
	o.draining = true
	o.mu.Unlock()

	for {
		result, err := o.drainOnce(trigger)

		o.mu.Lock()
		if o.rerun {
			o.rerun = false
			o.mu.Unlock()
			continue
		}
		o.draining = false
		o.mu.Unlock()
		return result, err
	}
}

// NotifyOnline is the connectivity-restored trigger.
func (o *Orchestrator) NotifyOnline() (*DrainResult, error) {
	return o.Drain(TriggerOnline)
}

// StartTimer drains on a fixed interval until the returned stop function
// is called.
func (o *Orchestrator) StartTimer(interval time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := o.Drain(TriggerTimer); err != nil {
					slog.Debug("timer drain", "err", err)
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// drainOnce performs a single pass: pull stale reference collections, then
// send pending operations in enqueue order, deferring the ones whose
// dependencies are still local-only and retrying those once at the end.
func (o *Orchestrator) drainOnce(trigger string) (*DrainResult, error) {
	started := time.Now().UTC()
	result := &DrainResult{Trigger: trigger}

	o.pullStale(result)

	// Re-read rather than reuse any earlier snapshot: the user may have kept
	// editing while a previous pass was in flight.
	ops, err := o.db.ListPending(o.userID)
	if err != nil {
		return result, err
	}

	var deferred []db.PendingOp
	for _, op := range ops {
		if op.Terminal {
			// Structured server rejection: waits for user action, never
			// blocks the rest of the queue.
			result.Blocked++
			continue
		}
		switch o.process(op) {
		case outcomeCompleted:
			result.Sent++
			result.Completed++
		case outcomeDeferred:
			deferred = append(deferred, op)
		case outcomeFailed:
			result.Sent++
			result.Failed++
		}
	}

	// Single end-of-pass retry: in normal flow a dependency's create was
	// ordered before its dependents, so by now it has a server id.
	for _, op := range deferred {
		switch o.process(op) {
		case outcomeCompleted:
			result.Sent++
			result.Completed++
		case outcomeDeferred:
			result.Deferred++
			if err := o.db.RecordError(op.ID, "resolve", CodeUnresolved,
				fmt.Sprintf("%s %s still references a local-only id", op.Operation, op.EntityID), false); err != nil {
				slog.Warn("record deferral", "op", op.ID, "err", err)
			}
		case outcomeFailed:
			result.Sent++
			result.Failed++
		}
	}

	if err := o.db.RecordSyncHistory(db.SyncHistoryEntry{
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Sent:       result.Sent,
		Completed:  result.Completed,
		Deferred:   result.Deferred,
		Failed:     result.Failed,
		Blocked:    result.Blocked,
	}); err != nil {
		slog.Warn("sync history", "err", err)
	}

	slog.Debug("drain finished", "trigger", trigger, "sent", result.Sent,
		"completed", result.Completed, "deferred", result.Deferred,
		"failed", result.Failed, "blocked", result.Blocked)
	return result, nil
}

// pullStale refreshes the local mirror of collections the poller flagged.
// A failed pull is logged and skipped; the push proceeds and the collection
// stays flagged for the next cycle.
func (o *Orchestrator) pullStale(result *DrainResult) {
	if o.poller == nil {
		return
	}
	stale, err := o.poller.StaleCollections()
	if err != nil {
		slog.Warn("stale collections", "err", err)
		return
	}
	for _, collection := range stale {
		if !models.ValidEntityType(collection) {
			continue // counter-only collection, nothing mirrored locally
		}
		entities, err := o.client.List(collection)
		if err != nil {
			slog.Warn("pull collection", "collection", collection, "err", err)
			continue
		}
		ok := true
		for _, e := range entities {
			if e.ID == "" {
				continue
			}
			if err := o.db.UpsertFromServer(o.userID, collection, e.ID, e.Fields); err != nil {
				slog.Warn("apply pulled entity", "collection", collection, "id", e.ID, "err", err)
				ok = false
			}
		}
		if ok {
			if err := o.db.MarkCollectionFresh(collection); err != nil {
				slog.Warn("mark fresh", "collection", collection, "err", err)
			}
			result.Pulled = append(result.Pulled, collection)
		}
	}
}

// process handles one operation end to end: resolve, send, persist outcome.
// The network round trip completes before the next operation on the same
// entity starts, so the server never sees two edits out of order.
func (o *Orchestrator) process(op db.PendingOp) opOutcome {
	payload, ok, err := o.resolvePayload(op)
	if err != nil {
		o.recordFailure(op, "resolve", err)
		return outcomeFailed
	}
	if !ok {
		return outcomeDeferred
	}

	switch op.Operation {
	case models.OpCreate:
		data, err := o.client.Create(op.EntityType, payload)
		if err != nil {
			return o.classify(op, err)
		}
		if data.ID == "" {
			o.recordFailure(op, "send", fmt.Errorf("create %s: server returned no id", op.EntityType))
			return outcomeFailed
		}
		if err := o.db.AckCreate(op.EntityType, op.EntityID, data.ID, op.ID); err != nil {
			o.recordFailure(op, "send", err)
			return outcomeFailed
		}
		return outcomeCompleted

	case models.OpUpdate:
		serverID, err := o.resolver.Resolve(op.EntityType, op.EntityID)
		if err != nil {
			o.recordFailure(op, "resolve", err)
			return outcomeFailed
		}
		if _, err := o.client.Update(op.EntityType, serverID, payload); err != nil {
			return o.classify(op, err)
		}
		if err := o.db.Complete(op.ID); err != nil {
			o.recordFailure(op, "send", err)
			return outcomeFailed
		}
		return outcomeCompleted

	case models.OpDelete:
		serverID := deleteTarget(op)
		if serverID == "" {
			// Mirror row is gone and no server id was snapshotted: the
			// create was never acknowledged, there is nothing to delete.
			return outcomeDeferred
		}
		err := o.client.Delete(op.EntityType, serverID)
		if err != nil && !errors.Is(err, syncclient.ErrNotFound) {
			return o.classify(op, err)
		}
		// 404 counts as done: the entity is gone either way.
		if err := o.db.Complete(op.ID); err != nil {
			o.recordFailure(op, "send", err)
			return outcomeFailed
		}
		return outcomeCompleted

	default:
		o.recordFailure(op, "send", fmt.Errorf("unknown operation %q", op.Operation))
		return outcomeFailed
	}
}

// resolvePayload rewrites foreign-key fields in the snapshot to server ids.
// Returns ok=false when a referenced entity is still local-only, meaning
// the operation must wait for that entity's create to be acknowledged.
//
// The resolution runs against the live store immediately before the send,
// never against a batch-precomputed view: an earlier operation in this very
// pass may just have assigned the server id we need.
func (o *Orchestrator) resolvePayload(op db.PendingOp) (json.RawMessage, bool, error) {
	// A create of an entity whose own id is local is fine: the server
	// assigns the id. Updates address the entity itself, checked in process.
	if op.Operation == models.OpUpdate {
		unresolved, err := o.resolver.Unresolved(op.EntityType, op.EntityID)
		if err != nil {
			return nil, false, err
		}
		if unresolved {
			return nil, false, nil
		}
	}

	fks := models.ForeignKeys[op.EntityType]
	if len(fks) == 0 || len(op.Payload) == 0 {
		return op.Payload, true, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(op.Payload, &fields); err != nil {
		return nil, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	changed := false
	for _, fk := range fks {
		raw, present := fields[fk.Field]
		if !present {
			continue
		}
		id, isString := raw.(string)
		if !isString || id == "" {
			continue
		}
		unresolved, err := o.resolver.Unresolved(fk.RefType, id)
		if err != nil {
			return nil, false, err
		}
		if unresolved {
			return nil, false, nil
		}
		resolved, err := o.resolver.Resolve(fk.RefType, id)
		if err != nil {
			return nil, false, err
		}
		if resolved != id {
			fields[fk.Field] = resolved
			changed = true
		}
	}

	if !changed {
		return op.Payload, true, nil
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false, fmt.Errorf("marshal resolved snapshot: %w", err)
	}
	return out, true, nil
}

// classify maps a send error to retry behavior: structured 4xx rejections
// are terminal until the user acts, everything else stays queued for the
// next cycle with no retry cap — unbounded queue depth beats silent loss.
// A 404 on a send is terminal too: the target is gone server-side and no
// amount of retrying brings it back. Deletes never reach here with a 404;
// process counts those as done.
func (o *Orchestrator) classify(op db.PendingOp, err error) opOutcome {
	if apiErr, ok := syncclient.IsStructured(err); ok {
		if rerr := o.db.RecordError(op.ID, "send", apiErr.Code, apiErr.Message, true); rerr != nil {
			slog.Warn("record rejection", "op", op.ID, "err", rerr)
		}
		return outcomeFailed
	}
	if errors.Is(err, syncclient.ErrNotFound) {
		if rerr := o.db.RecordError(op.ID, "send", CodeNotFound, err.Error(), true); rerr != nil {
			slog.Warn("record rejection", "op", op.ID, "err", rerr)
		}
		return outcomeFailed
	}
	code := CodeNetwork
	if errors.Is(err, syncclient.ErrUnauthorized) || errors.Is(err, syncclient.ErrForbidden) {
		code = CodeUnauthorized
	}
	if rerr := o.db.RecordError(op.ID, "send", code, err.Error(), false); rerr != nil {
		slog.Warn("record transient", "op", op.ID, "err", rerr)
	}
	return outcomeFailed
}

func (o *Orchestrator) recordFailure(op db.PendingOp, step string, err error) {
	if rerr := o.db.RecordError(op.ID, step, CodeNetwork, err.Error(), false); rerr != nil {
		slog.Warn("record failure", "op", op.ID, "step", step, "err", rerr)
	}
}

// deleteTarget extracts the server id a delete should address from its
// snapshot, falling back to the entity id when it is already a server id.
func deleteTarget(op db.PendingOp) string {
	if len(op.Payload) > 0 {
		var snap struct {
			ServerID string `json:"server_id"`
		}
		if json.Unmarshal(op.Payload, &snap) == nil && snap.ServerID != "" {
			return snap.ServerID
		}
	}
	if !db.IsLocalID(op.EntityID) {
		return op.EntityID
	}
	return ""
}
