package models

import (
	"fmt"
	"time"
)

// SessionState represents the current phase of a trading session
type SessionState string

const (
	StateWaitingForEntry SessionState = "waiting_for_entry" // Before entry time or underlying not yet priced
	StateSampling        SessionState = "sampling"          // Building legs and taking the entry snapshot
	StateEnteredPolling  SessionState = "entered_polling"   // Paper position open, polling prices
	StateExited          SessionState = "exited"            // Terminal
)

// ExitReason explains why a session left the market.
type ExitReason string

const (
	ExitTarget      ExitReason = "TARGET HIT"
	ExitStopLoss    ExitReason = "STOPLOSS HIT"
	ExitTime        ExitReason = "TIME EXIT"
	ExitInterrupted ExitReason = "INTERRUPTED"
	ExitNoEntry     ExitReason = "NO ENTRY"
)

// StateTransition defines valid state transitions
type StateTransition struct {
	From        SessionState
	To          SessionState
	Condition   string
	Description string
}

// Transition conditions
const (
	CondEntryTime       = "entry_time_reached"
	CondEntered         = "position_entered"
	CondExitConditions  = "exit_conditions"
	CondInterrupted     = "interrupted"
	CondEntryWindowGone = "entry_window_closed"
)

// ValidTransitions lists every permitted move of the session lifecycle.
var ValidTransitions = []StateTransition{
	{StateWaitingForEntry, StateSampling, CondEntryTime, "Entry time reached and underlying priced"},
	{StateWaitingForEntry, StateExited, CondInterrupted, "Stopped before entry"},
	{StateWaitingForEntry, StateExited, CondEntryWindowGone, "Cutoff reached before underlying was priced"},
	{StateSampling, StateEnteredPolling, CondEntered, "Entry snapshot taken"},
	{StateSampling, StateExited, CondInterrupted, "Stopped while building legs"},
	{StateEnteredPolling, StateExited, CondExitConditions, "Target, stop loss or time cutoff"},
	{StateEnteredPolling, StateExited, CondInterrupted, "Stopped while polling"},
}

// StateMachine tracks the session lifecycle.
type StateMachine struct {
	transitionTime time.Time
	history        []SessionState
	currentState   SessionState
	previousState  SessionState
}

// NewStateMachine creates a new state machine in StateWaitingForEntry
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:   StateWaitingForEntry,
		previousState:  StateWaitingForEntry,
		transitionTime: time.Now().UTC(),
		history:        []SessionState{StateWaitingForEntry},
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() SessionState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() SessionState {
	return sm.previousState
}

// TransitionTime is when the last transition happened.
func (sm *StateMachine) TransitionTime() time.Time {
	return sm.transitionTime
}

// History returns every state visited, oldest first.
func (sm *StateMachine) History() []SessionState {
	out := make([]SessionState, len(sm.history))
	copy(out, sm.history)
	return out
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to SessionState, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From == sm.currentState && tr.To == to && (tr.Condition == condition || condition == "") {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to SessionState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.history = append(sm.history, to)
	return nil
}

// IsTerminal reports whether the session has exited.
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateExited
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateWaitingForEntry:
		return "Waiting for entry time"
	case StateSampling:
		return "Selecting legs and sampling entry prices"
	case StateEnteredPolling:
		return "Position entered, polling for exit"
	case StateExited:
		return "Session finished"
	default:
		return "Unknown state"
	}
}
