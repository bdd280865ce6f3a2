package pipeline

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// State represents the current phase of a search job
type State string

const (
	StateReceived    State = "received"
	StatePlanning    State = "planning"
	StateSearching   State = "searching"
	StateAggregating State = "aggregating"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// validTransitions defines which state transitions are allowed
var validTransitions = map[State][]State{
	StateReceived:    {StatePlanning, StateFailed},
	StatePlanning:    {StateSearching, StateFailed},
	StateSearching:   {StateAggregating, StateFailed},
	StateAggregating: {StateCompleted, StateFailed},
	StateCompleted:   {},
	StateFailed:      {},
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// StateTransition records a state change
type StateTransition struct {
	From      State          `json:"from"`
	To        State          `json:"to"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StateTracker tracks job lifecycle state
type StateTracker interface {
	Current() State
	Transition(to State, metadata map[string]any) error
	History() []StateTransition
	Duration(state State) time.Duration
}

// DefaultStateTracker is an in-memory state tracker implementation
type DefaultStateTracker struct {
	mu      sync.RWMutex
	current State
	created time.Time
	history []StateTransition
	now     func() time.Time
}

// NewStateTracker creates a new state tracker starting at StateReceived
func NewStateTracker() *DefaultStateTracker {
	return &DefaultStateTracker{
		current: StateReceived,
		created: time.Now(),
		now:     time.Now,
	}
}

// Current returns the current state
func (t *DefaultStateTracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Transition moves to a new state if the transition is valid
func (t *DefaultStateTracker) Transition(to State, metadata map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !slices.Contains(validTransitions[t.current], to) {
		return fmt.Errorf("invalid state transition from %s to %s", t.current, to)
	}

	now := t.now()
	t.history = append(t.history, StateTransition{
		From:      t.current,
		To:        to,
		Timestamp: now,
		Metadata:  metadata,
	})
	t.current = to
	return nil
}

// History returns all state transitions
func (t *DefaultStateTracker) History() []StateTransition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.history)
}

// Duration returns how long the job spent in state. A state that is still
// current counts up to now; a state never entered is zero.
func (t *DefaultStateTracker) Duration(state State) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total time.Duration
	since, in := t.created, state == StateReceived
	for _, tr := range t.history {
		if in && tr.From == state {
			total += tr.Timestamp.Sub(since)
			in = false
		}
		if tr.To == state {
			since, in = tr.Timestamp, true
		}
	}
	if in && !state.Terminal() {
		total += t.now().Sub(since)
	}
	return total
}
