package session

import (
	"fmt"
	"time"
)

// State is the lifecycle phase of a session
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// MarshalText renders the state name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "idle":
		*s = StateIdle
	case "capturing":
		*s = StateCapturing
	case "flushing":
		*s = StateFlushing
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// Human-readable status messages shown to the user
const (
	StatusConnecting      = "Connecting..."
	StatusConnected       = "Connected..."
	StatusConnectionError = "Connection error."
	StatusDisconnected    = "Disconnected."
	StatusCapturing       = "Capturing"
	StatusFlushing        = "Flushing"
	StatusIdle            = "Idle"
)

// Status is a point-in-time notification of session and connection state
type Status struct {
	State     State     `json:"state"`
	Connected bool      `json:"connected"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
