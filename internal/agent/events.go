package agent

import "time"

type EventKind string

const (
	EventStateChange      EventKind = "STATE_CHANGE"
	EventTurnAppended     EventKind = "TURN_APPENDED"
	EventTurnUpdated      EventKind = "TURN_UPDATED"
	EventTurnRemoved      EventKind = "TURN_REMOVED"
	EventCredentialActive EventKind = "CREDENTIAL_ACTIVE"
	EventError            EventKind = "ERROR"
)

// Event is the session's notification unit. Consumers subscribe via
// Session.Events; the core imposes no rendering requirements.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	SessionID string
	Data      map[string]any
}
