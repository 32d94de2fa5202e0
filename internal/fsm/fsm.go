// Package fsm defines the pure transition table for the recording session
// lifecycle. State is held by the owner; transitions never have side effects.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateFinalizing State = "finalizing"
	StateDispatched State = "dispatched"
	StateCancelled  State = "cancelled"
	StateError      State = "error"
)

const (
	EventStart    Event = "start"
	EventStop     Event = "stop"
	EventCancel   Event = "cancel"
	EventDispatch Event = "dispatch"
	EventReset    Event = "reset"
	EventFail     Event = "fail"
)

// Terminal reports whether a state permits starting a new session.
// Idle counts: terminal session states immediately reset to it.
func Terminal(s State) bool {
	switch s {
	case StateIdle, StateDispatched, StateCancelled, StateError:
		return true
	default:
		return false
	}
}

// Transition applies one event to a state and returns the next state.
// EventFail is accepted from any state.
func Transition(current State, event Event) (State, error) {
	if event == EventFail {
		return StateError, nil
	}

	switch current {
	case StateIdle:
		if event == EventStart {
			return StateRecording, nil
		}
		return current, invalidTransition(current, event)
	case StateRecording:
		switch event {
		case EventStop:
			return StateFinalizing, nil
		case EventCancel:
			return StateCancelled, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateFinalizing:
		switch event {
		case EventDispatch:
			return StateDispatched, nil
		case EventCancel:
			return StateCancelled, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDispatched, StateCancelled, StateError:
		if event == EventReset {
			return StateIdle, nil
		}
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
