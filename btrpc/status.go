package btrpc

// Status is the current state of the connection to the RPC interface.
type Status string

// Connection states
const (
	// StatusDisconnected means the connection was either lost or terminated.
	StatusDisconnected Status = "disconnected"
	// StatusConnecting means an attempt to connect is in progress.
	StatusConnecting Status = "connecting"
	// StatusConnected means the connection was established.
	StatusConnected Status = "connected"
)

func (s Status) String() string {
	return string(s)
}
