// Package server exposes the polling API handlers, the WebSocket upgrade,
// health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

const defaultMessagesLimit = 100

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	relay    *relay.Relay
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a Handler serving r over HTTP and hub over WebSocket.
func NewHandler(r *relay.Relay, hub *Hub, cfg Config, logger zerolog.Logger) *Handler {
	logger = logger.With().Str("component", "http").Logger()
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Handler{
		relay: r,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write response")
	}
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// RelayError maps a relay error onto a status code. Unclassified errors are
// logged and reported without detail.
func (h *Handler) RelayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, relay.ErrInvalidArgument):
		h.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, relay.ErrNotFound):
		h.Error(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		h.Error(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

// formBinder is implemented by request types that can also be submitted as
// an urlencoded form.
type formBinder interface {
	bindForm(url.Values)
}

// decodeRequest reads a JSON or urlencoded body into dst. An empty body
// leaves dst zero so the relay reports the missing fields.
func decodeRequest(r *http.Request, dst formBinder) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		dst.bindForm(r.PostForm)
		return nil
	}

	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ConnectRequest is the body of POST /api/chat/connect.
type ConnectRequest struct {
	SessionID  string `json:"sessionId"`
	RockstarID string `json:"rockstarId"`
}

func (c *ConnectRequest) bindForm(v url.Values) {
	c.SessionID, c.RockstarID = v.Get("sessionId"), v.Get("rockstarId")
}

// ConnectResponse is returned by a successful connect.
type ConnectResponse struct {
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	SessionID  string    `json:"sessionId"`
	RockstarID string    `json:"rockstarId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Connect handles POST /api/chat/connect.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if err := decodeRequest(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.relay.Connect(req.SessionID, req.RockstarID); err != nil {
		h.RelayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, ConnectResponse{
		Success:    true,
		Message:    "Session connected",
		SessionID:  req.SessionID,
		RockstarID: req.RockstarID,
		Timestamp:  time.Now().UTC(),
	})
}

// SendRequest is the body of POST /api/chat/send.
type SendRequest struct {
	SessionID  string `json:"sessionId"`
	RockstarID string `json:"rockstarId"`
	Message    string `json:"message"`
}

func (s *SendRequest) bindForm(v url.Values) {
	s.SessionID, s.RockstarID, s.Message = v.Get("sessionId"), v.Get("rockstarId"), v.Get("message")
}

// SendResponse is returned by a successful send.
type SendResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// Send handles POST /api/chat/send.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeRequest(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.relay.Send(req.SessionID, req.RockstarID, req.Message)
	if err != nil {
		h.RelayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, SendResponse{
		Success:   true,
		Message:   "Message received",
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
}

// PollResponse is returned by GET /api/chat/poll.
type PollResponse struct {
	Success   bool            `json:"success"`
	SessionID string          `json:"sessionId"`
	Messages  []relay.Message `json:"messages"`
	Count     int             `json:"count"`
	Timestamp time.Time       `json:"timestamp"`
}

// Poll handles GET /api/chat/poll.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")

	messages, err := h.relay.Poll(sessionID, q.Get("rockstarId"), q.Get("since"))
	if err != nil {
		h.RelayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, PollResponse{
		Success:   true,
		SessionID: sessionID,
		Messages:  messages,
		Count:     len(messages),
		Timestamp: time.Now().UTC(),
	})
}

// MessagesResponse is returned by GET /api/chat/messages.
type MessagesResponse struct {
	Success  bool            `json:"success"`
	Messages []relay.Message `json:"messages"`
	Total    int             `json:"total"`
	Count    int             `json:"count"`
}

// Messages handles GET /api/chat/messages.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	limit := defaultMessagesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	messages, total := h.relay.GlobalRecent(limit)
	h.JSON(w, http.StatusOK, MessagesResponse{
		Success:  true,
		Messages: messages,
		Total:    total,
		Count:    len(messages),
	})
}

// SessionsResponse is returned by GET /api/sessions.
type SessionsResponse struct {
	Success  bool                   `json:"success"`
	Sessions []relay.SessionSummary `json:"sessions"`
	Count    int                    `json:"count"`
}

// Sessions handles GET /api/sessions.
func (h *Handler) Sessions(w http.ResponseWriter, _ *http.Request) {
	sessions := h.relay.ListSessions()
	h.JSON(w, http.StatusOK, SessionsResponse{
		Success:  true,
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// DisconnectRequest is the body of POST /api/chat/disconnect.
type DisconnectRequest struct {
	SessionID  string `json:"sessionId"`
	RockstarID string `json:"rockstarId"`
}

func (d *DisconnectRequest) bindForm(v url.Values) {
	d.SessionID, d.RockstarID = v.Get("sessionId"), v.Get("rockstarId")
}

// DisconnectResponse is returned by a successful disconnect.
type DisconnectResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	PlayerName string `json:"playerName"`
}

// Disconnect handles POST /api/chat/disconnect.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req DisconnectRequest
	if err := decodeRequest(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	playerName, err := h.relay.Disconnect(req.SessionID, req.RockstarID)
	if err != nil {
		h.RelayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, DisconnectResponse{
		Success:    true,
		Message:    "Client disconnected",
		PlayerName: playerName,
	})
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Clear handles DELETE /api/chat/clear.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	h.relay.Clear(sessionID)

	message := "All messages cleared"
	if sessionID != "" {
		message = "Messages cleared for session " + sessionID
	}
	h.JSON(w, http.StatusOK, StatusResponse{Success: true, Message: message})
}

// BroadcastRequest is the body of POST /api/chat/broadcast.
type BroadcastRequest struct {
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (b *BroadcastRequest) bindForm(v url.Values) {
	b.Message, b.Sender, b.SessionID = v.Get("message"), v.Get("sender"), v.Get("sessionId")
}

// BroadcastResponse is returned by a successful broadcast.
type BroadcastResponse struct {
	Success        bool      `json:"success"`
	Message        string    `json:"message"`
	RecipientCount int       `json:"recipientCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// Broadcast handles POST /api/chat/broadcast.
func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := decodeRequest(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	count, ts, err := h.relay.Broadcast(req.Message, req.Sender, req.SessionID)
	if err != nil {
		h.RelayError(w, r, err)
		return
	}

	h.JSON(w, http.StatusOK, BroadcastResponse{
		Success:        true,
		Message:        "Broadcast sent",
		RecipientCount: count,
		Timestamp:      ts,
	})
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	Uptime         float64   `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveSessions int       `json:"activeSessions"`
	TotalMessages  int       `json:"totalMessages"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	stats := h.relay.Stats()
	h.JSON(w, http.StatusOK, HealthResponse{
		Status:         "OK",
		Uptime:         stats.Uptime.Seconds(),
		Timestamp:      time.Now().UTC(),
		ActiveSessions: stats.ActiveSessions,
		TotalMessages:  stats.TotalMessages,
	})
}

// NotFound answers unknown routes.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusNotFound, map[string]string{
		"error": "Not Found",
		"path":  r.URL.Path,
	})
}

// MethodNotAllowed answers known routes hit with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	h.Error(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

// WebSocket upgrades the request and hands the socket to the hub, which
// launches its pumps.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr)
	select {
	case h.hub.register <- client:
	case <-h.hub.ctx.Done():
		h.logger.Debug().Str("socket_id", client.ID()).Msg("socket rejected during shutdown")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
}

// TestPage serves an HTML page for exercising the push channel by hand.
func (h *Handler) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := io.WriteString(w, testPageHTML); err != nil {
		h.logger.Warn().Err(err).Msg("error writing test page")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Cherax Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        button:disabled { background-color: #999; cursor: default; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Cherax Chat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="sessionInput" placeholder="Session ID" value="test-session">
        <input type="text" id="playerInput" placeholder="Rockstar ID" value="web-tester">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const sessionInput = document.getElementById('sessionInput');
        const playerInput = document.getElementById('playerInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '3px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            sessionInput.disabled = connected;
            playerInput.disabled = connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function emit(event, data) {
            ws.send(JSON.stringify({ event: event, data: data }));
        }

        function render(frame) {
            const d = frame.data || {};
            switch (frame.event) {
            case 'message':
                addLine('[' + d.sender + '] ' + d.message, d.isBroadcast ? 'purple' : 'green');
                break;
            case 'session-joined':
                addLine('Joined ' + d.sessionId + ' (' + d.playersInSession + ' online)');
                break;
            case 'player-joined':
            case 'player-left':
            case 'player-disconnected':
                addLine(d.message || (d.rockstarId + ' ' + frame.event));
                break;
            case 'error':
                addLine('Error: ' + d.message, 'red');
                break;
            default:
                addLine(JSON.stringify(frame));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                updateStatus(true);
                emit('join-session', { sessionId: sessionInput.value, rockstarId: playerInput.value });
            };

            ws.onmessage = function(event) {
                try {
                    render(JSON.parse(event.data));
                } catch (e) {
                    addLine(event.data);
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error', 'red');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                emit('chat-message', { sessionId: sessionInput.value, rockstarId: playerInput.value, message: message });
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
