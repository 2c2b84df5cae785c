// Package resolve translates between local and server identifiers. It is
// the single place every component turns "an id I have" into "the id the
// server expects". Resolution is read-only and never fails just because an
// entity has not synced yet: in that case the local id is returned and the
// enclosing operation is expected to defer until the dependency resolves.
package resolve

import (
	"github.com/fieldtrace/ftrace/internal/db"
)

// Resolver answers identifier questions against the local entity store.
type Resolver struct {
	db *db.DB
}

// New creates a resolver over the given store.
func New(database *db.DB) *Resolver {
	return &Resolver{db: database}
}

// Resolve maps id to the identifier the server expects.
//
// An exact server-id match is checked first: if some record already carries
// this id as its server identity, the caller handed us a server id and it
// passes through untouched. Only then is the local-id index consulted, so a
// string that happens to collide with an unrelated local id is never
// remapped. A local id whose record has no server id yet also passes
// through unchanged; it is only meaningful locally and the caller must
// defer.
func (r *Resolver) Resolve(entityType, id string) (string, error) {
	if id == "" {
		return id, nil
	}
	byServer, err := r.db.GetByServerID(entityType, id)
	if err != nil {
		return "", err
	}
	if byServer != nil {
		return id, nil
	}
	byLocal, err := r.db.GetByLocalID(entityType, id)
	if err != nil {
		return "", err
	}
	if byLocal != nil && byLocal.Synced() {
		return byLocal.ServerID, nil
	}
	return id, nil
}

// Unresolved reports whether id still refers to a local-only record: a
// mirror record exists under this local id but carries no server id.
// Unknown ids are assumed to be server ids for entities never seen offline.
func (r *Resolver) Unresolved(entityType, id string) (bool, error) {
	if id == "" || !db.IsLocalID(id) {
		return false, nil
	}
	byLocal, err := r.db.GetByLocalID(entityType, id)
	if err != nil {
		return false, err
	}
	return byLocal != nil && !byLocal.Synced(), nil
}

// FindByIDOrLocalID returns the record behind either identity, preferring
// the exact server-id match, or nil when neither index hits.
func (r *Resolver) FindByIDOrLocalID(entityType, id string) (*db.Entity, error) {
	return r.db.FindByIDOrLocalID(entityType, id)
}
