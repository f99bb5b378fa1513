package session

import "fmt"

// State enumerates the upload session lifecycle.
type State int

const (
	StateIdle State = iota
	StatePreviewing
	StateAnalyzing
	StateResultsShown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewing:
		return "previewing"
	case StateAnalyzing:
		return "analyzing"
	case StateResultsShown:
		return "results"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{StateIdle, StatePreviewing, StateAnalyzing, StateResultsShown} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Listener is called after every state transition, outside the session lock.
type Listener func(prev, next State)
