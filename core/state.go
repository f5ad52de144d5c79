package orchestration

// State is the conversation state shared with UI observers. Exactly one
// state is current at any time; it is owned exclusively by the orchestrator
// and observed read-only through snapshots and state-change callbacks.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateError:
		return "error"
	}
	return "unknown"
}

// StatusText is the human-readable status line shown by overlays.
func (s State) StatusText(errMessage string) string {
	switch s {
	case StateIdle:
		return "Ready"
	case StateListening:
		return "Listening..."
	case StateThinking:
		return "Thinking..."
	case StateSpeaking:
		return "Speaking..."
	case StateError:
		return "Error: " + errMessage
	}
	return "Unknown"
}

// Snapshot is a point-in-time view of the orchestrator's observable state.
type Snapshot struct {
	State      State
	Transcript string
	Response   string
	Err        string
}

func (s Snapshot) StatusText() string {
	return s.State.StatusText(s.Err)
}
