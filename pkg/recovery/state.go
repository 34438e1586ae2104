package recovery

// ConnectionState represents the state of a supervised connection.
type ConnectionState int

const (
	// StateDisconnected indicates no usable connection.
	StateDisconnected ConnectionState = iota

	// StateConnecting indicates a connect attempt is in flight.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateDegraded is held only while a failed health report is folded into the disconnect path.
	StateDegraded

	// StateClosed is terminal.
	StateClosed
)

// String returns the string representation of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
