package interview

import "fmt"

// State is the outer session lifecycle state.
type State string

// Phase is the inner alternation while the session is active.
type Phase string

// Event drives lifecycle transitions.
type Event string

const (
	StateSetup    State = "setup"
	StateActive   State = "active"
	StateFeedback State = "feedback"
)

const (
	PhaseAwaitingSpeech Phase = "awaiting_user_speech"
	PhaseGenerating     Phase = "generating_response"
)

const (
	EventBegin    Event = "begin"
	EventComplete Event = "complete"
)

// Transition applies one lifecycle event. Feedback is terminal; a new session
// is the only way back.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateSetup:
		if event == EventBegin {
			return StateActive, nil
		}
	case StateActive:
		if event == EventComplete {
			return StateFeedback, nil
		}
	case StateFeedback:
		// no transitions out
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
	return current, fmt.Errorf("invalid transition: %s --(%s)--> ?", current, event)
}
