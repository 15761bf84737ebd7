package types

import "fmt"

// ConnectionKind distinguishes a peer message connection from a
// transfer (file) connection.
type ConnectionKind int

const (
	PeerConnectionKind ConnectionKind = iota
	TransferConnectionKind
)

func (k ConnectionKind) String() string {
	if k == TransferConnectionKind {
		return "F"
	}
	return "P"
}

// ConnectionKey identifies a managed connection: username plus endpoint
// plus kind, used as the map key for transfer connections (indexed
// together with an integer token by the caller).
type ConnectionKey struct {
	Username string
	IP       string
	Port     int
	Kind     ConnectionKind
}

func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s(%s:%d)[%s]", k.Username, k.IP, k.Port, k.Kind)
}

// ClientState is the small set of top-level connection flags spec.md
// §3 describes. Transitions are strictly monotonic within a session:
// Disconnected -> Connected -> LoggedIn, and any disconnection resets
// to Disconnected.
type ClientState int32

const (
	Disconnected ClientState = iota
	Connected
	LoggedIn
)

func (s ClientState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case LoggedIn:
		return "LoggedIn"
	default:
		return "Unknown"
	}
}
