package relay

// Push event names, server to client.
const (
	EventPlayerJoined       = "player-joined"
	EventSessionJoined      = "session-joined"
	EventMessage            = "message"
	EventPlayerLeft         = "player-left"
	EventPlayerDisconnected = "player-disconnected"
	EventError              = "error"
)

// Event is a named push payload.
type Event struct {
	Name string
	Data any
}

// PlayerJoined is sent to every socket of a session when a client joins.
type PlayerJoined struct {
	ClientID    string `json:"rockstarId"`
	MemberCount int    `json:"playersInSession"`
	Text        string `json:"message,omitempty"`
}

// SessionJoined acknowledges a push join to the joining socket only.
type SessionJoined struct {
	SessionID   string `json:"sessionId"`
	MemberCount int    `json:"playersInSession"`
}

// PlayerLeft is sent to the remaining sockets when a push socket goes away.
type PlayerLeft struct {
	ClientID    string `json:"rockstarId"`
	MemberCount int    `json:"playersInSession"`
	Text        string `json:"message"`
}

// PlayerDisconnected is sent to a session's sockets when a REST client disconnects.
type PlayerDisconnected struct {
	ClientID string `json:"rockstarId"`
	Text     string `json:"message"`
}

// ErrorEvent reports a protocol violation to the offending socket.
type ErrorEvent struct {
	Message string `json:"message"`
}

// Deliverer pushes an event to a set of sockets. Implementations must not
// call back into the Relay synchronously.
type Deliverer interface {
	Deliver(socketIDs []string, ev Event)
}

// delivery is an event collected under the relay lock and dispatched after it.
type delivery struct {
	socketIDs []string
	event     Event
}
