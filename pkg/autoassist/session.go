// Package autoassist implements the AutoAssist orchestrator: it splits a
// request into subtasks, routes each one to the best matching assistant, asks
// the user to confirm the plan and runs it.
package autoassist

import (
	"errors"
	"fmt"

	"github.com/nstogner/autoassist/pkg/store"
)

// ErrAutoAssistMissing is returned when the AutoAssist record is not in the store.
var ErrAutoAssistMissing = errors.New("AutoAssist assistant is missing from the store")

type State string

const (
	StateIdle         State = "idle"
	StateAwaitConfirm State = "awaitConfirm"
	StateExecuting    State = "executing"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateIdle: {
		StateIdle:         {},
		StateAwaitConfirm: {},
		StateExecuting:    {},
	},
	StateAwaitConfirm: {
		StateAwaitConfirm: {},
		StateExecuting:    {},
		StateIdle:         {},
	},
	StateExecuting: {
		StateIdle: {},
	},
}

// ValidateTransition returns an error if the state machine may not move from one state to the other.
func ValidateTransition(from, to State) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("invalid state: %q", from)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return nil
}

// Session is the AutoAssist state that lives between user turns.
type Session struct {
	State State `json:"state"`
	// Pending are the planned subtasks while awaiting confirmation.
	Pending []store.SubtaskInfo `json:"pending,omitempty"`
	// PendingTurn is the request turn the plan was made for. Its inline parts
	// are passed on to every subtask.
	PendingTurn *store.WireTurn `json:"pending_turn,omitempty"`
}

// IdleSession returns the empty session.
func IdleSession() Session {
	return Session{State: StateIdle}
}

// Normalized maps the zero value to idle.
func (s Session) Normalized() Session {
	if s.State == "" {
		s.State = StateIdle
	}
	return s
}
