package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
	"github.com/langheinrich/Cherax-EE-Chat/internal/server"
	"github.com/langheinrich/Cherax-EE-Chat/internal/testhelpers"
)

func startRelay(t *testing.T) (*relay.Relay, string) {
	t.Helper()
	cfg := server.NewConfig()
	cfg.CleanupDelay = time.Hour
	s := server.New(*cfg, zerolog.Nop())
	ts := testhelpers.CreateTestServer(t, s.Handler())
	t.Cleanup(func() { s.Relay().Close() })
	return s.Relay(), ts.URL
}

func connect(t *testing.T, r *relay.Relay, sessionID, clientID string) {
	t.Helper()
	_, err := r.Connect(sessionID, clientID)
	require.NoError(t, err)
}

func executeCLI(t *testing.T, baseURL string, args ...string) (string, string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(append([]string{"--base-url", baseURL}, args...))

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestHealth(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")

	stdout, _, err := executeCLI(t, url, "health")
	require.NoError(t, err)
	assert.Contains(t, stdout, "status: OK")
	assert.Contains(t, stdout, "sessions: 1")
	assert.Contains(t, stdout, "messages: 1")
}

func TestSessionsEmpty(t *testing.T) {
	_, url := startRelay(t)

	stdout, _, err := executeCLI(t, url, "sessions")
	require.NoError(t, err)
	assert.Equal(t, "no sessions\n", stdout)
}

func TestSessionsTable(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")
	connect(t, r, "lobby", "bob")

	stdout, _, err := executeCLI(t, url, "sessions")
	require.NoError(t, err)
	assert.Contains(t, stdout, "SESSION")
	assert.Contains(t, stdout, "lobby")
	assert.Contains(t, stdout, "alice,bob")
}

func TestSessionsJSON(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")

	stdout, _, err := executeCLI(t, url, "sessions", "--json")
	require.NoError(t, err)

	var sessions []relay.SessionSummary
	require.NoError(t, json.Unmarshal([]byte(stdout), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "lobby", sessions[0].SessionID)
}

func TestMessagesLimit(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")
	_, err := r.Send("lobby", "alice", "first")
	require.NoError(t, err)
	_, err = r.Send("lobby", "alice", "second")
	require.NoError(t, err)

	stdout, _, err := executeCLI(t, url, "messages", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[lobby] alice: second")
	assert.NotContains(t, stdout, "first")
	assert.Contains(t, stdout, "showing 1 of 3")
}

func TestMessagesRejectsNegativeLimit(t *testing.T) {
	_, url := startRelay(t)

	_, _, err := executeCLI(t, url, "messages", "--limit", "-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--limit")
}

func TestBroadcast(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")
	connect(t, r, "arena", "bob")

	stdout, _, err := executeCLI(t, url, "broadcast", "--sender", "ops", "server", "restart", "soon")
	require.NoError(t, err)
	assert.Contains(t, stdout, "delivered to 2 session(s)")

	messages, err := r.Poll("arena", "bob", "")
	require.NoError(t, err)
	last := messages[len(messages)-1]
	assert.Equal(t, "server restart soon", last.Body)
	assert.Equal(t, "ops", last.Sender)
}

func TestBroadcastUnknownSession(t *testing.T) {
	_, url := startRelay(t)

	_, _, err := executeCLI(t, url, "broadcast", "--session", "ghost", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestBroadcastRequiresMessage(t *testing.T) {
	_, url := startRelay(t)

	_, _, err := executeCLI(t, url, "broadcast")
	require.Error(t, err)
}

func TestClearSession(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")

	stdout, _, err := executeCLI(t, url, "clear", "--session", "lobby")
	require.NoError(t, err)
	assert.Equal(t, "cleared session lobby\n", stdout)

	messages, err := r.Poll("lobby", "alice", "")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestClearAll(t *testing.T) {
	r, url := startRelay(t)
	connect(t, r, "lobby", "alice")
	connect(t, r, "arena", "bob")

	stdout, _, err := executeCLI(t, url, "clear", "--all")
	require.NoError(t, err)
	assert.Equal(t, "cleared all sessions\n", stdout)
	assert.Equal(t, 0, r.Stats().TotalMessages)
}

func TestClearRequiresTarget(t *testing.T) {
	_, url := startRelay(t)

	_, _, err := executeCLI(t, url, "clear")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--session or --all")

	_, _, err = executeCLI(t, url, "clear", "--session", "lobby", "--all")
	require.Error(t, err)
}

func TestBotAnnouncesAndLeaves(t *testing.T) {
	r, url := startRelay(t)

	_, _, err := executeCLI(t, url,
		"bot",
		"--session", "lobby",
		"--id", "tester-bot",
		"--interval", "20ms",
		"--duration", "150ms",
		"--announce", "bot online",
	)
	require.NoError(t, err)

	global, _ := r.GlobalRecent(0)
	var bodies []string
	for _, m := range global {
		bodies = append(bodies, m.Body)
	}
	assert.Contains(t, bodies, "bot online")
	assert.Equal(t, relay.KindLeave, global[len(global)-1].Kind)
}

func TestUnreachableRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--base-url", "http://127.0.0.1:1", "--timeout", "200ms", "health"})
	require.Error(t, root.ExecuteContext(ctx))
}
