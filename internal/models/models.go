// Package models defines the entity registry and shared domain types for
// the ftrace client: the tracked entity collections, their foreign-key
// fields, and the operation/status vocabulary used by the outbox and the
// sync engine.
package models

import "time"

// Entity collections mirrored from the server. Collection names double as
// the REST path segment (/v1/{collection}).
const (
	Actors       = "actors"
	Conventions  = "conventions"
	Calendars    = "calendars"
	Transactions = "transactions"
	Documents    = "documents"
	Campaigns    = "campaigns"
)

// Collections lists every entity type the local store mirrors and the
// outbox accepts operations for.
var Collections = []string{
	Actors,
	Conventions,
	Calendars,
	Transactions,
	Documents,
	Campaigns,
}

// DeltaCollections lists the collections tracked by the polling service.
// "users" is server-owned reference data: never mutated locally, but its
// counter still decides pull-before-push.
var DeltaCollections = append([]string{"users"}, Collections...)

// ValidEntityType reports whether t names a mirrored collection.
func ValidEntityType(t string) bool {
	for _, c := range Collections {
		if c == t {
			return true
		}
	}
	return false
}

// ForeignKey describes a payload field holding a reference to another
// entity. The sync orchestrator resolves these fields to server ids
// immediately before each send.
type ForeignKey struct {
	Field   string // JSON field name in the payload
	RefType string // referenced collection
}

// ForeignKeys maps each entity type to the reference fields its payload
// may carry. Fields absent from a payload are simply skipped.
var ForeignKeys = map[string][]ForeignKey{
	Conventions: {{Field: "campaign_id", RefType: Campaigns}},
	Calendars:   {{Field: "actor_id", RefType: Actors}},
	Transactions: {
		{Field: "actor_id", RefType: Actors},
		{Field: "convention_id", RefType: Conventions},
		{Field: "campaign_id", RefType: Campaigns},
	},
	Documents: {
		{Field: "transaction_id", RefType: Transactions},
		{Field: "actor_id", RefType: Actors},
	},
}

// Outbox operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ValidOperation reports whether op is a known outbox operation.
func ValidOperation(op string) bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// Derived sync status of a mirror record. The outbox is authoritative;
// these values are computed from it, never stored.
const (
	StatusSynced  = "synced"
	StatusPending = "pending"
	StatusError   = "error"
)

// OpError is the structured last-error attached to a pending operation.
type OpError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Step      string    `json:"step"` // "resolve" or "send"
	Timestamp time.Time `json:"timestamp"`
}
