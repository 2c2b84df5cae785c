package sync

// Error codes recorded on outbox entries by the orchestrator itself.
// Structured server rejections keep the server's own code.
const (
	CodeNetwork      = "NETWORK"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeUnresolved   = "UNRESOLVED_REFERENCE"
)

// Drain triggers.
const (
	TriggerForce   = "force"
	TriggerTimer   = "timer"
	TriggerOnline  = "online"
	TriggerSession = "session"
)

// DrainResult summarises one drain: how many operations were sent,
// acknowledged, deferred to the next cycle, rejected by the server, or
// skipped because a previous structured rejection blocks them.
type DrainResult struct {
	Trigger   string
	Sent      int
	Completed int
	Deferred  int
	Failed    int
	Blocked   int
	Pulled    []string // collections refreshed before the push
	Coalesced bool     // this trigger merged into a drain already in flight
}

// opOutcome classifies the handling of a single operation within a pass.
type opOutcome int

const (
	outcomeCompleted opOutcome = iota
	outcomeDeferred            // dependency still local-only, retry at end of pass
	outcomeFailed              // error recorded, entry stays queued
)
