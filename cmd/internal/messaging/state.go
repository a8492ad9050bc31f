package messaging

// State is the lifecycle state of the messaging session.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StatePairing
	StateReady
	StateError
	StateDisconnected
)

var stateNames = [...]string{
	StateUninitialized: "UNINITIALIZED",
	StateInitializing:  "INITIALIZING",
	StatePairing:       "PAIRING",
	StateReady:         "READY",
	StateError:         "ERROR",
	StateDisconnected:  "DISCONNECTED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// live reports whether the session may still reach (or is) READY without a restart.
func (s State) live() bool {
	return s == StateInitializing || s == StatePairing || s == StateReady
}
