package server_test

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
	"github.com/langheinrich/Cherax-EE-Chat/internal/server"
	"github.com/langheinrich/Cherax-EE-Chat/internal/testhelpers"
)

type errorBody struct {
	Error string `json:"error"`
	Path  string `json:"path"`
}

func connect(t *testing.T, baseURL, sessionID, clientID string) {
	t.Helper()
	resp := testhelpers.PostJSON(t, baseURL+"/api/chat/connect", server.ConnectRequest{
		SessionID:  sessionID,
		RockstarID: clientID,
	})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
}

func TestHealthHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "lobby", "alice")

	var body server.HealthResponse
	resp := testhelpers.GetJSON(t, ts.URL+"/health", &body)

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")
	assert.Equal(t, "OK", body.Status)
	assert.Equal(t, 1, body.ActiveSessions)
	assert.Equal(t, 1, body.TotalMessages)
	assert.GreaterOrEqual(t, body.Uptime, 0.0)
	assert.WithinDuration(t, time.Now(), body.Timestamp, time.Minute)
}

func TestConnectHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)

	t.Run("success", func(t *testing.T) {
		resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/connect", server.ConnectRequest{
			SessionID:  "lobby",
			RockstarID: "alice",
		})
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)

		var body server.ConnectResponse
		testhelpers.DecodeJSON(t, resp, &body)
		assert.True(t, body.Success)
		assert.Equal(t, "lobby", body.SessionID)
		assert.Equal(t, "alice", body.RockstarID)
	})

	t.Run("missing fields", func(t *testing.T) {
		resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/connect", map[string]string{})
		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)

		var body errorBody
		testhelpers.DecodeJSON(t, resp, &body)
		assert.Equal(t, "sessionId and rockstarId are required", body.Error)
	})

	t.Run("empty body", func(t *testing.T) {
		resp := testhelpers.MakeRequest(t, http.MethodPost, ts.URL+"/api/chat/connect", nil)
		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
	})

	t.Run("malformed json", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/chat/connect", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
	})

	t.Run("form encoded", func(t *testing.T) {
		resp, err := http.PostForm(ts.URL+"/api/chat/connect", url.Values{
			"sessionId":  {"form-session"},
			"rockstarId": {"bob"},
		})
		require.NoError(t, err)
		defer resp.Body.Close()
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	})
}

func TestSendAndPollHandlers(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "lobby", "alice")

	resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/send", server.SendRequest{
		SessionID:  "lobby",
		RockstarID: "alice",
		Message:    "hello",
	})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var sent server.SendResponse
	testhelpers.DecodeJSON(t, resp, &sent)
	assert.True(t, sent.Success)
	assert.NotEmpty(t, sent.MessageID)

	var poll server.PollResponse
	resp = testhelpers.GetJSON(t, ts.URL+"/api/chat/poll?sessionId=lobby&rockstarId=alice", &poll)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	require.Equal(t, 2, poll.Count)
	assert.Equal(t, relay.KindJoin, poll.Messages[0].Kind)
	assert.Equal(t, "alice joined the chat", poll.Messages[0].Body)
	assert.Equal(t, sent.MessageID, poll.Messages[1].ID)
	assert.Equal(t, "hello", poll.Messages[1].Body)

	since := strconv.FormatInt(poll.Messages[1].Timestamp.UnixMilli(), 10)
	resp = testhelpers.GetJSON(t, ts.URL+"/api/chat/poll?sessionId=lobby&rockstarId=alice&since="+since, &poll)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	assert.Equal(t, 0, poll.Count)
	assert.NotNil(t, poll.Messages)
}

func TestSendAndPollErrors(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "lobby", "alice")

	tests := []struct {
		name   string
		resp   func() *http.Response
		status int
		error  string
	}{
		{
			name: "send missing message",
			resp: func() *http.Response {
				return testhelpers.PostJSON(t, ts.URL+"/api/chat/send", server.SendRequest{SessionID: "lobby", RockstarID: "alice"})
			},
			status: http.StatusBadRequest,
			error:  "message is required",
		},
		{
			name: "send unknown session",
			resp: func() *http.Response {
				return testhelpers.PostJSON(t, ts.URL+"/api/chat/send", server.SendRequest{SessionID: "nope", RockstarID: "alice", Message: "hi"})
			},
			status: http.StatusNotFound,
			error:  "Session not found. Please connect first.",
		},
		{
			name: "poll missing client",
			resp: func() *http.Response {
				return testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/chat/poll?sessionId=lobby", nil)
			},
			status: http.StatusBadRequest,
			error:  "rockstarId is required",
		},
		{
			name: "poll unknown session",
			resp: func() *http.Response {
				return testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/chat/poll?sessionId=nope&rockstarId=alice", nil)
			},
			status: http.StatusNotFound,
			error:  "Session not found. Please connect first.",
		},
		{
			name: "poll bad watermark",
			resp: func() *http.Response {
				return testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/chat/poll?sessionId=lobby&rockstarId=alice&since=yesterday", nil)
			},
			status: http.StatusBadRequest,
			error:  "since must be a numeric timestamp",
		},
		{
			name: "messages bad limit",
			resp: func() *http.Response {
				return testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/chat/messages?limit=-4", nil)
			},
			status: http.StatusBadRequest,
			error:  "limit must be a non-negative integer",
		},
		{
			name: "disconnect missing session",
			resp: func() *http.Response {
				return testhelpers.PostJSON(t, ts.URL+"/api/chat/disconnect", server.DisconnectRequest{RockstarID: "alice"})
			},
			status: http.StatusBadRequest,
			error:  "sessionId is required",
		},
		{
			name: "disconnect unknown session",
			resp: func() *http.Response {
				return testhelpers.PostJSON(t, ts.URL+"/api/chat/disconnect", server.DisconnectRequest{SessionID: "nope"})
			},
			status: http.StatusNotFound,
			error:  "Session not found",
		},
		{
			name: "broadcast missing message",
			resp: func() *http.Response {
				return testhelpers.PostJSON(t, ts.URL+"/api/chat/broadcast", server.BroadcastRequest{Sender: "ops"})
			},
			status: http.StatusBadRequest,
			error:  "message is required",
		},
		{
			name: "broadcast to empty session",
			resp: func() *http.Response {
				return testhelpers.PostJSON(t, ts.URL+"/api/chat/broadcast", server.BroadcastRequest{Message: "hi", SessionID: "nope"})
			},
			status: http.StatusNotFound,
			error:  "Session nope has no connected clients",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp()
			testhelpers.AssertStatusCode(t, resp, tt.status)
			testhelpers.AssertContentType(t, resp, "application/json")

			var body errorBody
			testhelpers.DecodeJSON(t, resp, &body)
			assert.Equal(t, tt.error, body.Error)
		})
	}
}

func TestDisconnectHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "lobby", "alice")

	resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/disconnect", server.DisconnectRequest{SessionID: "lobby"})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var body server.DisconnectResponse
	testhelpers.DecodeJSON(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, "Unknown Player", body.PlayerName)

	var messages server.MessagesResponse
	testhelpers.GetJSON(t, ts.URL+"/api/chat/messages", &messages)
	require.Equal(t, 2, messages.Total)
	assert.Equal(t, "Unknown Player left the chat", messages.Messages[1].Body)
	assert.True(t, messages.Messages[1].IsSystemMessage)
}

func TestDisconnectTearsSessionDownAfterGracePeriod(t *testing.T) {
	s, ts := startTestServer(t, func(cfg *server.Config) {
		cfg.CleanupDelay = 20 * time.Millisecond
	})
	connect(t, ts.URL, "lobby", "alice")

	resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/disconnect", server.DisconnectRequest{SessionID: "lobby", RockstarID: "alice"})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	testhelpers.Eventually(t, func() bool {
		return s.Relay().Stats().ActiveSessions == 0
	}, "session was not torn down")

	var sessions server.SessionsResponse
	testhelpers.GetJSON(t, ts.URL+"/api/sessions", &sessions)
	assert.Zero(t, sessions.Count)

	resp = testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/chat/poll?sessionId=lobby&rockstarId=alice", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	var messages server.MessagesResponse
	testhelpers.GetJSON(t, ts.URL+"/api/chat/messages", &messages)
	assert.Zero(t, messages.Total)
}

func TestMessagesHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "a", "alice")
	connect(t, ts.URL, "b", "bob")
	for i := 0; i < 3; i++ {
		resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/send", server.SendRequest{SessionID: "a", RockstarID: "alice", Message: strconv.Itoa(i)})
		testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	}

	var body server.MessagesResponse
	testhelpers.GetJSON(t, ts.URL+"/api/chat/messages?limit=2", &body)
	assert.True(t, body.Success)
	assert.Equal(t, 5, body.Total)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "1", body.Messages[0].Body)
	assert.Equal(t, "2", body.Messages[1].Body)

	testhelpers.GetJSON(t, ts.URL+"/api/chat/messages", &body)
	assert.Equal(t, 5, body.Count)
}

func TestSessionsHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "b", "bob")
	connect(t, ts.URL, "a", "alice")
	connect(t, ts.URL, "a", "carol")

	var body server.SessionsResponse
	testhelpers.GetJSON(t, ts.URL+"/api/sessions", &body)

	require.Equal(t, 2, body.Count)
	first := body.Sessions[0]
	assert.Equal(t, "a", first.SessionID)
	assert.Equal(t, "carol", first.PrimaryClientID)
	assert.Equal(t, []string{"alice", "carol"}, first.ClientIDs)
	assert.Equal(t, 2, first.RestClients)
	assert.Equal(t, 0, first.SocketClients)
	assert.Equal(t, 2, first.MessageCount)
	assert.Equal(t, "b", body.Sessions[1].SessionID)
}

func TestClearHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "a", "alice")
	connect(t, ts.URL, "b", "bob")

	resp := testhelpers.MakeRequest(t, http.MethodDelete, ts.URL+"/api/chat/clear?sessionId=a", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var status server.StatusResponse
	testhelpers.DecodeJSON(t, resp, &status)
	assert.Equal(t, "Messages cleared for session a", status.Message)

	var poll server.PollResponse
	testhelpers.GetJSON(t, ts.URL+"/api/chat/poll?sessionId=a&rockstarId=alice", &poll)
	assert.Zero(t, poll.Count)

	var messages server.MessagesResponse
	testhelpers.GetJSON(t, ts.URL+"/api/chat/messages", &messages)
	assert.Equal(t, 2, messages.Total, "clearing one session keeps the global log")

	resp = testhelpers.MakeRequest(t, http.MethodDelete, ts.URL+"/api/chat/clear", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &status)
	assert.Equal(t, "All messages cleared", status.Message)

	testhelpers.GetJSON(t, ts.URL+"/api/chat/messages", &messages)
	assert.Zero(t, messages.Total)
}

func TestBroadcastHandler(t *testing.T) {
	_, ts := startTestServer(t, nil)
	connect(t, ts.URL, "a", "alice")
	connect(t, ts.URL, "b", "bob")

	resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/broadcast", server.BroadcastRequest{Message: "restart in 5"})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	var body server.BroadcastResponse
	testhelpers.DecodeJSON(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, 2, body.RecipientCount)

	var poll server.PollResponse
	testhelpers.GetJSON(t, ts.URL+"/api/chat/poll?sessionId=b&rockstarId=bob", &poll)
	require.Equal(t, 2, poll.Count)
	last := poll.Messages[1]
	assert.Equal(t, relay.KindBroadcast, last.Kind)
	assert.Equal(t, "Admin", last.Sender)
	assert.True(t, last.IsBroadcast)
	assert.Equal(t, "b", last.SessionID)

	resp = testhelpers.PostJSON(t, ts.URL+"/api/chat/broadcast", server.BroadcastRequest{Message: "only a", Sender: "ops", SessionID: "a"})
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &body)
	assert.Equal(t, 1, body.RecipientCount)
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	_, ts := startTestServer(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/api/does-not-exist", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
	testhelpers.AssertContentType(t, resp, "application/json")

	var body errorBody
	testhelpers.DecodeJSON(t, resp, &body)
	assert.Equal(t, "Not Found", body.Error)
	assert.Equal(t, "/api/does-not-exist", body.Path)
}

func TestWrongMethodIsRejected(t *testing.T) {
	_, ts := startTestServer(t, nil)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/chat/connect"},
		{http.MethodPost, "/api/chat/poll"},
		{http.MethodPost, "/ws"},
		{http.MethodPut, "/health"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, tt.method, ts.URL+tt.path, nil)
			testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	_, ts := startTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat/send", http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://game.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestTestPageAndMetrics(t *testing.T) {
	_, ts := startTestServer(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/test", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")
	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(page), "join-session")

	testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/health", nil)

	resp = testhelpers.MakeRequest(t, http.MethodGet, ts.URL+"/metrics", nil)
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	exposition, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(exposition), `relay_http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestRequestBodyTooLarge(t *testing.T) {
	_, ts := startTestServer(t, nil)

	resp := testhelpers.PostJSON(t, ts.URL+"/api/chat/send", server.SendRequest{
		SessionID:  "lobby",
		RockstarID: "alice",
		Message:    strings.Repeat("x", 128*1024),
	})
	testhelpers.AssertStatusCode(t, resp, http.StatusRequestEntityTooLarge)
}
