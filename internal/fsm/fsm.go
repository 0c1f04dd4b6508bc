// Package fsm holds the practice-session lifecycle transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateNotStarted       State = "not_started"
	StateAwaitingArtifact State = "awaiting_artifact"
	StateValidated        State = "validated"
	StateUploading        State = "uploading"
	StateFinalizing       State = "finalizing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

const (
	EventOpen      Event = "open"
	EventDiscard   Event = "discard"
	EventAccept    Event = "accept"
	EventReject    Event = "reject"
	EventUpload    Event = "upload"
	EventUploaded  Event = "uploaded"
	EventFinalized Event = "finalized"
	EventFail      Event = "fail"
	EventReset     Event = "reset"
)

// Busy reports whether a finalize attempt owns the session.
func (s State) Busy() bool {
	return s == StateUploading || s == StateFinalizing
}

// Terminal reports whether the session has been consumed by the backend.
func (s State) Terminal() bool {
	return s == StateCompleted
}

// Transition returns the next lifecycle state for event.
// Reset is accepted from every known state; Completed accepts nothing else.
func Transition(current State, event Event) (State, error) {
	if event == EventReset {
		if !known(current) {
			return current, fmt.Errorf("unknown state %q", current)
		}
		return StateNotStarted, nil
	}

	switch current {
	case StateNotStarted:
		switch event {
		case EventOpen:
			return StateAwaitingArtifact, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateAwaitingArtifact:
		switch event {
		case EventDiscard, EventReject:
			return StateAwaitingArtifact, nil
		case EventAccept:
			return StateValidated, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateValidated:
		switch event {
		case EventDiscard:
			return StateAwaitingArtifact, nil
		case EventUpload:
			return StateUploading, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateUploading:
		switch event {
		case EventUploaded:
			return StateFinalizing, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateFinalizing:
		switch event {
		case EventFinalized:
			return StateCompleted, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateFailed:
		switch event {
		case EventOpen, EventDiscard:
			return StateAwaitingArtifact, nil
		case EventUpload:
			return StateUploading, nil
		case EventFail:
			return StateFailed, nil
		}
	case StateCompleted:
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, invalidTransition(current, event)
}

func known(s State) bool {
	switch s {
	case StateNotStarted, StateAwaitingArtifact, StateValidated, StateUploading,
		StateFinalizing, StateCompleted, StateFailed:
		return true
	}
	return false
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
