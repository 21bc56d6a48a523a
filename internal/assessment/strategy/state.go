package strategy

import (
	"errors"
	"slices"
)

// State is a step of the recovery state machine.
type State string

const (
	StateIdle                 State = "idle"
	StateDeploying            State = "deploying"
	StateHAEnabling           State = "ha-enabling"
	StateBackingUp            State = "backing-up"
	StateRestoreRejectedCheck State = "restore-rejected-check"
	StateRemovingExtraMembers State = "removing-extra-members"
	StateTerminatingPrimary   State = "terminating-primary"
	StateAwaitingShutdown     State = "awaiting-shutdown"
	StateHARevalidation       State = "ha-revalidation"
	StateRestoring            State = "restoring"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
// Every non-terminal state may also move to StateFailed.
var ValidTransitions = map[State][]State{
	StateIdle:                 {StateDeploying},
	StateDeploying:            {StateHAEnabling, StateBackingUp},
	StateHAEnabling:           {StateBackingUp, StateTerminatingPrimary},
	StateBackingUp:            {StateRestoreRejectedCheck},
	StateRestoreRejectedCheck: {StateRemovingExtraMembers, StateTerminatingPrimary},
	StateRemovingExtraMembers: {StateTerminatingPrimary},
	StateTerminatingPrimary:   {StateAwaitingShutdown},
	StateAwaitingShutdown:     {StateHARevalidation, StateRestoring},
	StateHARevalidation:       {StateDone},
	StateRestoring:            {StateDone},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return !from.Terminal()
	}
	return slices.Contains(ValidTransitions[from], to)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
