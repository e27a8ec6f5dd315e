// Package client provides a typed Go client for the relay's polling API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

// DefaultBaseURL is the address of a locally running relay.
const DefaultBaseURL = "http://localhost:3000"

// APIError is a non-2xx response from the relay.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay error %d", e.StatusCode)
	}
	return fmt.Sprintf("relay error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the relay.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is a relay API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client for the relay at baseURL.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// do performs a request and decodes a successful JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Health is the response of GET /health.
type Health struct {
	Status         string    `json:"status"`
	Uptime         float64   `json:"uptime"`
	Timestamp      time.Time `json:"timestamp"`
	ActiveSessions int       `json:"activeSessions"`
	TotalMessages  int       `json:"totalMessages"`
}

// Health fetches the relay status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Connect joins clientID to sessionID over the polling transport.
func (c *Client) Connect(ctx context.Context, sessionID, clientID string) error {
	req := map[string]string{"sessionId": sessionID, "rockstarId": clientID}
	return c.do(ctx, http.MethodPost, "/api/chat/connect", req, nil)
}

// SendResult is the response of a successful send.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// Send posts a chat message.
func (c *Client) Send(ctx context.Context, sessionID, clientID, message string) (*SendResult, error) {
	req := map[string]string{"sessionId": sessionID, "rockstarId": clientID, "message": message}
	var resp SendResult
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Poll returns the session messages newer than since. A zero since returns
// the latest batch.
func (c *Client) Poll(ctx context.Context, sessionID, clientID string, since time.Time) ([]relay.Message, error) {
	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("rockstarId", clientID)
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var resp struct {
		Messages []relay.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/poll?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Disconnect leaves a session and returns the name used in the leave message.
func (c *Client) Disconnect(ctx context.Context, sessionID, clientID string) (string, error) {
	req := map[string]string{"sessionId": sessionID, "rockstarId": clientID}
	var resp struct {
		PlayerName string `json:"playerName"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/disconnect", req, &resp); err != nil {
		return "", err
	}
	return resp.PlayerName, nil
}

// Messages returns the last limit entries of the global log and its total size.
func (c *Client) Messages(ctx context.Context, limit int) ([]relay.Message, int, error) {
	path := "/api/chat/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []relay.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Messages, resp.Total, nil
}

// Sessions lists every session known to the relay.
func (c *Client) Sessions(ctx context.Context) ([]relay.SessionSummary, error) {
	var resp struct {
		Sessions []relay.SessionSummary `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// BroadcastRequest describes an admin broadcast. Sender and SessionID are optional.
type BroadcastRequest struct {
	Message   string `json:"message"`
	Sender    string `json:"sender,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// BroadcastResult is the response of a successful broadcast.
type BroadcastResult struct {
	RecipientCount int       `json:"recipientCount"`
	Timestamp      time.Time `json:"timestamp"`
}

// Broadcast injects a message into every occupied session, or one session.
func (c *Client) Broadcast(ctx context.Context, req BroadcastRequest) (*BroadcastResult, error) {
	var resp BroadcastResult
	if err := c.do(ctx, http.MethodPost, "/api/chat/broadcast", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Clear empties one session's history, or everything when sessionID is empty.
func (c *Client) Clear(ctx context.Context, sessionID string) error {
	path := "/api/chat/clear"
	if sessionID != "" {
		path += "?sessionId=" + url.QueryEscape(sessionID)
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
