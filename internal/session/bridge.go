// Package session converts authentication lifecycle signals into
// synchronization triggers. It knows nothing about auth mechanics beyond
// the state values; the login flow feeds it transitions and it fires the
// initial forced sync exactly once per session establishment.
package session

import (
	"log/slog"
	"sync"
)

// State is the coarse authentication state of the client session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Bridge observes session transitions and triggers the established hook —
// delta check then forced drain, in that order — once per establishment.
type Bridge struct {
	mu            sync.Mutex
	state         State
	requireStepUp bool
	stepUpDone    bool
	fired         bool // one-shot guard, reset when the session ends

	onEstablished func()
}

// NewBridge creates a bridge. onEstablished runs synchronously on the
// transition to a fully established session. requireStepUp gates the
// trigger on the second-factor completion signal.
func NewBridge(onEstablished func(), requireStepUp bool) *Bridge {
	return &Bridge{
		onEstablished: onEstablished,
		requireStepUp: requireStepUp,
	}
}

// SetState records an authentication state transition.
func (b *Bridge) SetState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	if s == StateUnauthenticated {
		// Session over: re-arm so the next login re-triggers the sequence.
		b.fired = false
		b.stepUpDone = false
	}
	b.mu.Unlock()

	if prev != s {
		slog.Debug("session state", "from", prev, "to", s)
	}
	b.maybeFire()
}

// CompleteStepUp records the second-factor verification signal.
func (b *Bridge) CompleteStepUp() {
	b.mu.Lock()
	b.stepUpDone = true
	b.mu.Unlock()
	b.maybeFire()
}

// State returns the current session state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// maybeFire runs the established hook when the session is fully
// authenticated (including step-up, when required) and has not fired yet
// this session.
func (b *Bridge) maybeFire() {
	b.mu.Lock()
	ready := b.state == StateAuthenticated && (!b.requireStepUp || b.stepUpDone) && !b.fired
	if ready {
		b.fired = true
	}
	hook := b.onEstablished
	b.mu.Unlock()

	if ready && hook != nil {
		hook()
	}
}
