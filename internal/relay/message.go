package relay

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind classifies a Message.
type Kind string

const (
	KindChat      Kind = "chat"
	KindJoin      Kind = "join"
	KindLeave     Kind = "leave"
	KindBroadcast Kind = "broadcast"
)

const (
	// SystemSender is the display sender of join and leave messages.
	SystemSender = "System"
	// DefaultBroadcastSender is used when a broadcast names no sender.
	DefaultBroadcastSender = "Admin"
	// UnknownPlayer names a REST disconnect that carried no client id.
	UnknownPlayer = "Unknown Player"
)

// Message is one immutable chat event. JSON field names follow the wire
// format polled by game clients.
type Message struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId,omitempty"`
	ClientID        string    `json:"rockstarId,omitempty"`
	Sender          string    `json:"sender"`
	Body            string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	Kind            Kind      `json:"type"`
	IsSystemMessage bool      `json:"isSystemMessage,omitempty"`
	IsBroadcast     bool      `json:"isBroadcast,omitempty"`
	SocketID        string    `json:"socketId,omitempty"`
}

// newMessageID derives a sortable id from the creation time plus a random
// suffix, so ids created within the same millisecond do not collide.
func newMessageID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String()
}

func newMessage(sessionID, clientID, sender, body string, kind Kind, ts time.Time) Message {
	return Message{
		ID:              newMessageID(ts),
		SessionID:       sessionID,
		ClientID:        clientID,
		Sender:          sender,
		Body:            body,
		Timestamp:       ts,
		Kind:            kind,
		IsSystemMessage: kind == KindJoin || kind == KindLeave,
		IsBroadcast:     kind == KindBroadcast,
	}
}

func joinText(clientID string) string {
	return clientID + " joined the chat"
}

func leaveText(clientID string) string {
	return clientID + " left the chat"
}
