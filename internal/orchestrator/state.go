package orchestrator

import (
	"errors"
	"fmt"

	"github.com/AaronLay10/SentientDrill/internal/model"
)

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrInvalidAction is returned when an action does not fit the session's
	// current position or arrives out of order.
	ErrInvalidAction = errors.New("invalid action")
)

// StateError describes a rejected state-dependent operation.
type StateError struct {
	SessionID string
	State     model.SessionState
	Op        string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session %s is %s", e.Op, e.SessionID, e.State)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// ActionError describes a rejected action. The session is unchanged.
type ActionError struct {
	SessionID string
	Sequence  int64
	Reason    string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d on session %s: %s", e.Sequence, e.SessionID, e.Reason)
}

func (e *ActionError) Unwrap() error {
	return ErrInvalidAction
}

// transition moves s forward to next or reports why it cannot.
func transition(s *model.Session, next model.SessionState, op string) error {
	if !s.State.CanTransition(next) {
		return &StateError{SessionID: s.ID, State: s.State, Op: op}
	}
	s.State = next
	return nil
}
