package pipeline

import (
	"testing"
	"time"
)

func trackerAt(state State) *DefaultStateTracker {
	t := NewStateTracker()
	t.current = state
	return t
}

func TestNewStateTracker(t *testing.T) {
	tracker := NewStateTracker()

	if tracker.Current() != StateReceived {
		t.Errorf("expected initial state %s, got %s", StateReceived, tracker.Current())
	}

	if len(tracker.History()) != 0 {
		t.Errorf("expected empty history, got %d transitions", len(tracker.History()))
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"received to planning", StateReceived, StatePlanning},
		{"received to failed", StateReceived, StateFailed},
		{"planning to searching", StatePlanning, StateSearching},
		{"searching to aggregating", StateSearching, StateAggregating},
		{"searching to failed", StateSearching, StateFailed},
		{"aggregating to completed", StateAggregating, StateCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := trackerAt(tt.from)
			if err := tracker.Transition(tt.to, nil); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tracker.Current() != tt.to {
				t.Errorf("expected state %s after transition, got %s", tt.to, tracker.Current())
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
	}{
		{"received to searching", StateReceived, StateSearching},
		{"planning to aggregating", StatePlanning, StateAggregating},
		{"searching to completed", StateSearching, StateCompleted},
		{"completed to failed", StateCompleted, StateFailed},
		{"failed to planning", StateFailed, StatePlanning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := trackerAt(tt.from)
			if err := tracker.Transition(tt.to, nil); err == nil {
				t.Errorf("expected error for %s -> %s", tt.from, tt.to)
			}
			if tracker.Current() != tt.from {
				t.Errorf("state should remain %s after failed transition, got %s", tt.from, tracker.Current())
			}
		})
	}
}

func TestTransitionHistory(t *testing.T) {
	tracker := NewStateTracker()

	tracker.Transition(StatePlanning, map[string]any{"extended": true})
	tracker.Transition(StateSearching, nil)
	tracker.Transition(StateAggregating, nil)
	tracker.Transition(StateCompleted, nil)

	history := tracker.History()
	if len(history) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(history))
	}
	if history[3].From != StateAggregating || history[3].To != StateCompleted {
		t.Errorf("expected aggregating->completed, got %s->%s", history[3].From, history[3].To)
	}
	if history[0].Metadata["extended"] != true {
		t.Error("expected metadata to be recorded")
	}

	history[0].To = StateFailed
	if tracker.History()[0].To != StatePlanning {
		t.Error("expected History to return a copy")
	}
}

func TestDuration(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	tracker := NewStateTracker()
	tracker.created = base
	tracker.now = func() time.Time { return clock }

	clock = base.Add(2 * time.Second)
	tracker.Transition(StatePlanning, nil)
	clock = base.Add(3 * time.Second)
	tracker.Transition(StateSearching, nil)
	clock = base.Add(10 * time.Second)

	if got := tracker.Duration(StateReceived); got != 2*time.Second {
		t.Errorf("expected received 2s, got %v", got)
	}
	if got := tracker.Duration(StatePlanning); got != time.Second {
		t.Errorf("expected planning 1s, got %v", got)
	}
	if got := tracker.Duration(StateSearching); got != 7*time.Second {
		t.Errorf("expected current searching 7s, got %v", got)
	}
	if got := tracker.Duration(StateAggregating); got != 0 {
		t.Errorf("expected 0 for unvisited state, got %v", got)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []State{StateReceived, StatePlanning, StateSearching, StateAggregating} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}
