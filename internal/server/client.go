// Package server manages individual push-channel sockets, handling read/write
// pumps, rate limiting, frame dispatch, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
)

// Client represents one push-channel socket. A socket joins at most one
// session at a time; joining another one leaves the first.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         zerolog.Logger

	mu        sync.Mutex
	sessionID string
	clientID  string
}

// NewClient creates a new Client for an upgraded connection and assigns it a
// fresh socket id. The send channel is buffered to absorb bursts.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		logger: hub.logger.With().
			Str("socket_id", id).
			Str("remote_addr", addr).
			Logger(),
	}
}

// ID returns the socket id.
func (c *Client) ID() string {
	return c.id
}

func (c *Client) membership() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.clientID
}

func (c *Client) setMembership(sessionID, clientID string) {
	c.mu.Lock()
	c.sessionID, c.clientID = sessionID, clientID
	c.mu.Unlock()
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause. Every
// read error ends the loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("max_bytes", c.maxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug().Err(err).Msg("socket disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("socket connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn().
			Int("burst", c.rateLimit.Burst).
			Dur("interval", c.rateLimit.RefillInterval).
			Msg("rate limit exceeded; discarding frame")
		return false
	}
	return true
}

// processMessage decodes one inbound frame and dispatches it to the relay.
// Failures are reported to this socket only and never close it.
func (c *Client) processMessage(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.sendError("Invalid frame")
		return
	}

	switch frame.Event {
	case eventJoinSession:
		var req JoinSessionRequest
		if err := decodeData(frame.Data, &req); err != nil {
			c.sendError("Invalid join-session payload")
			return
		}
		c.joinSession(req)
	case eventChatMessage:
		var req ChatMessageRequest
		if err := decodeData(frame.Data, &req); err != nil {
			c.sendError("Invalid chat-message payload")
			return
		}
		c.chatMessage(req)
	default:
		c.sendError("Unknown event: " + frame.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (c *Client) joinSession(req JoinSessionRequest) {
	prevSession, prevClient := c.membership()

	if _, err := c.hub.relay.JoinPush(req.SessionID, req.RockstarID, c.id); err != nil {
		c.sendError(err.Error())
		return
	}
	if prevSession != "" && prevSession != req.SessionID {
		c.hub.relay.LeavePush(prevSession, prevClient, c.id)
	}
	c.setMembership(req.SessionID, req.RockstarID)
}

func (c *Client) chatMessage(req ChatMessageRequest) {
	_, joinedAs := c.membership()
	clientID := req.RockstarID
	if clientID == "" {
		clientID = joinedAs
	}

	if _, err := c.hub.relay.PushMessage(req.SessionID, clientID, c.id, req.Message); err != nil {
		c.sendError(err.Error())
	}
}

func (c *Client) sendError(message string) {
	c.hub.Deliver([]string{c.id}, relay.Event{
		Name: relay.EventError,
		Data: relay.ErrorEvent{Message: message},
	})
}

// leaveSession drops this socket's push membership, if any.
func (c *Client) leaveSession() {
	sessionID, clientID := c.membership()
	if sessionID == "" {
		return
	}
	c.hub.relay.LeavePush(sessionID, clientID, c.id)
	c.setMembership("", "")
}

func (c *Client) readPump() {
	defer func() {
		c.leaveSession()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame and drains whatever else is already
// queued. It returns false if the connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if !ok {
		return c.writeCloseMessage()
	}
	if !c.writeTextMessage(message) {
		return false
	}
	return c.writeQueuedMessages()
}

func (c *Client) writeCloseMessage() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// writeTextMessage sends one frame as its own websocket message. Frames are
// never coalesced so every message carries exactly one JSON document.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline")
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing frame")
		}
		return false
	}
	return true
}

func (c *Client) writeQueuedMessages() bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return c.writeCloseMessage()
		}
		if !c.writeTextMessage(message) {
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}
