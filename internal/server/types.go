// Package server defines the push-channel frame format shared by the hub and
// its clients.
package server

import (
	"encoding/json"
	"strings"
)

// Client-to-server push events.
const (
	eventJoinSession = "join-session"
	eventChatMessage = "chat-message"
)

// Frame is one push-channel event in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinSessionRequest is the payload of a join-session frame.
type JoinSessionRequest struct {
	SessionID  string `json:"sessionId"`
	RockstarID string `json:"rockstarId"`
}

// ChatMessageRequest is the payload of a chat-message frame.
type ChatMessageRequest struct {
	SessionID  string `json:"sessionId"`
	RockstarID string `json:"rockstarId"`
	Message    string `json:"message"`
}

// outgoingFrame is the server-to-client encoding of a relay event.
type outgoingFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// delivery is one encoded frame queued for a set of sockets.
type delivery struct {
	socketIDs []string
	payload   []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
