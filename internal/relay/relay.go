package relay

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/metrics"
)

// Config controls session log bounds and teardown timing.
type Config struct {
	// HistoryLimit bounds each per-session log.
	HistoryLimit int
	// PollLimit caps the number of messages returned by one poll.
	PollLimit int
	// CleanupDelay is the grace period between a session becoming empty and
	// its teardown.
	CleanupDelay time.Duration
	// SuppressDuplicateJoins skips the join message of a client whose earlier
	// join message is still in the session log.
	SuppressDuplicateJoins bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:           100,
		PollLimit:              50,
		CleanupDelay:           5 * time.Second,
		SuppressDuplicateJoins: true,
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaults.HistoryLimit
	}
	if cfg.PollLimit <= 0 {
		cfg.PollLimit = defaults.PollLimit
	}
	if cfg.CleanupDelay < 0 {
		cfg.CleanupDelay = defaults.CleanupDelay
	}
	return cfg
}

// Stats is a point-in-time view of relay counters.
type Stats struct {
	// ActiveSessions counts sessions known through either transport,
	// including push-only ones.
	ActiveSessions int
	TotalMessages  int
	Uptime         time.Duration
}

// Relay owns the session registry, the message store and the cleanup
// scheduler, and implements the polling and push operations on top of them.
type Relay struct {
	mu        sync.Mutex
	cfg       Config
	registry  *Registry
	store     *Store
	cleanup   *Scheduler
	deliverer Deliverer
	logger    zerolog.Logger
	now       func() time.Time
	startedAt time.Time
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the relay logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger.With().Str("component", "relay").Logger()
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// WithDeliverer attaches the push delivery target.
func WithDeliverer(d Deliverer) Option {
	return func(r *Relay) {
		r.deliverer = d
	}
}

// New creates a Relay.
func New(cfg Config, opts ...Option) *Relay {
	r := &Relay{
		cfg:    sanitizeConfig(cfg),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startedAt = r.now()
	r.registry = NewRegistry(r.clock)
	r.store = NewStore(r.cfg.HistoryLimit)
	r.cleanup = NewScheduler(r.teardown)
	return r
}

// Attach sets the push delivery target after construction. The hub and the
// relay reference each other, so one of them has to be wired late.
func (r *Relay) Attach(d Deliverer) {
	r.mu.Lock()
	r.deliverer = d
	r.mu.Unlock()
}

// Close stops every pending teardown timer.
func (r *Relay) Close() {
	r.cleanup.Stop()
}

// clock returns the current time truncated to the millisecond precision
// carried on the wire.
func (r *Relay) clock() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// dispatch hands collected deliveries to the deliverer. It must be called
// without holding r.mu.
func (r *Relay) dispatch(d Deliverer, deliveries []delivery) {
	if d == nil {
		return
	}
	for _, dl := range deliveries {
		if len(dl.socketIDs) == 0 {
			continue
		}
		d.Deliver(dl.socketIDs, dl.event)
	}
}

func (r *Relay) storeLocked(msg Message) {
	r.store.Append(msg.SessionID, msg)
	metrics.MessagesAppended.WithLabelValues(string(msg.Kind)).Inc()
}

// publishLocked stores msg and queues a live message event for the session's sockets.
func (r *Relay) publishLocked(msg Message, out []delivery) []delivery {
	r.storeLocked(msg)
	return append(out, delivery{
		socketIDs: r.registry.PushMembers(msg.SessionID),
		event:     Event{Name: EventMessage, Data: msg},
	})
}

// activateLocked records connect/join activity and cancels a pending teardown.
func (r *Relay) activateLocked(sessionID string) {
	r.registry.Bump(sessionID)
	if r.cleanup.Cancel(sessionID) {
		r.logger.Debug().Str("session_id", sessionID).Msg("teardown cancelled by new activity")
	}
}

// scheduleIfEmptyLocked arms teardown when no member is left in either set.
func (r *Relay) scheduleIfEmptyLocked(sessionID string) bool {
	if r.registry.IsOccupied(sessionID) {
		return false
	}
	generation, ok := r.registry.Generation(sessionID)
	if !ok {
		return false
	}
	r.cleanup.Schedule(sessionID, r.cfg.CleanupDelay, generation)
	return true
}

// teardown runs when a cleanup timer fires.
func (r *Relay) teardown(sessionID string, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.registry.Generation(sessionID)
	if !ok {
		return
	}
	if current != generation || r.registry.IsOccupied(sessionID) {
		r.logger.Debug().Str("session_id", sessionID).Msg("session reactivated; teardown skipped")
		return
	}

	r.registry.Delete(sessionID)
	purged := r.store.PurgeSession(sessionID)
	metrics.SessionsTornDown.Inc()
	r.logger.Info().
		Str("session_id", sessionID).
		Int("purged_messages", purged).
		Msg("session torn down")
}

func required(fields ...[2]string) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	switch len(missing) {
	case 0:
		return nil
	case 1:
		return invalidArgument("%s is required", missing[0])
	default:
		return invalidArgument("%s are required", joinNames(missing))
	}
}

func joinNames(names []string) string {
	if len(names) <= 1 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}

// Connect registers a polling client with a session, creating the session on
// first use, and announces the client with a join message.
func (r *Relay) Connect(sessionID, clientID string) (Session, error) {
	if err := required([2]string{"sessionId", sessionID}, [2]string{"rockstarId", clientID}); err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	session := r.registry.Upsert(sessionID, clientID)
	r.registry.AddRestMember(sessionID, clientID)
	r.activateLocked(sessionID)

	var out []delivery
	joined := false
	if !r.cfg.SuppressDuplicateJoins || !r.store.HasJoin(sessionID, clientID) {
		msg := newMessage(sessionID, clientID, SystemSender, joinText(clientID), KindJoin, r.clock())
		r.storeLocked(msg)
		out = append(out, delivery{
			socketIDs: r.registry.PushMembers(sessionID),
			event: Event{Name: EventPlayerJoined, Data: PlayerJoined{
				ClientID:    clientID,
				MemberCount: r.registry.PushCount(sessionID),
				Text:        msg.Body,
			}},
		})
		joined = true
	}
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	r.logger.Info().
		Str("session_id", sessionID).
		Str("client_id", clientID).
		Bool("announced", joined).
		Msg("client connected")
	return session, nil
}

// Send appends a chat message from a polling client.
func (r *Relay) Send(sessionID, clientID, body string) (Message, error) {
	if err := required(
		[2]string{"sessionId", sessionID},
		[2]string{"rockstarId", clientID},
		[2]string{"message", body},
	); err != nil {
		return Message{}, err
	}

	r.mu.Lock()
	if _, ok := r.registry.Touch(sessionID); !ok {
		r.mu.Unlock()
		return Message{}, notFound("Session not found. Please connect first.")
	}
	msg := newMessage(sessionID, clientID, clientID, body, KindChat, r.clock())
	out := r.publishLocked(msg, nil)
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	r.logger.Debug().Str("session_id", sessionID).Str("client_id", clientID).Msg("message received")
	return msg, nil
}

// Poll returns the newest messages of a session, optionally only those newer
// than the since watermark (Unix milliseconds).
func (r *Relay) Poll(sessionID, clientID, since string) ([]Message, error) {
	if err := required([2]string{"sessionId", sessionID}, [2]string{"rockstarId", clientID}); err != nil {
		return nil, err
	}
	watermark, err := ParseWatermark(since)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.registry.Touch(sessionID); !ok {
		return nil, notFound("Session not found. Please connect first.")
	}
	return r.store.Recent(sessionID, watermark, r.cfg.PollLimit), nil
}

// Disconnect removes a polling client from a session, announces the leave and
// arms teardown when the session has become empty. It returns the name used
// in the leave announcement.
func (r *Relay) Disconnect(sessionID, clientID string) (string, error) {
	if err := required([2]string{"sessionId", sessionID}); err != nil {
		return "", err
	}
	playerName := clientID
	if strings.TrimSpace(playerName) == "" {
		playerName = UnknownPlayer
	}

	r.mu.Lock()
	if _, ok := r.registry.Touch(sessionID); !ok {
		r.mu.Unlock()
		return "", notFound("Session not found")
	}
	r.registry.RemoveRestMember(sessionID, clientID)

	msg := newMessage(sessionID, clientID, SystemSender, leaveText(playerName), KindLeave, r.clock())
	r.storeLocked(msg)
	out := []delivery{{
		socketIDs: r.registry.PushMembers(sessionID),
		event:     Event{Name: EventPlayerDisconnected, Data: PlayerDisconnected{ClientID: playerName, Text: msg.Body}},
	}}
	scheduled := r.scheduleIfEmptyLocked(sessionID)
	rest, push := r.registry.RestCount(sessionID), r.registry.PushCount(sessionID)
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	r.logger.Info().
		Str("session_id", sessionID).
		Str("player", playerName).
		Int("rest_clients", rest).
		Int("socket_clients", push).
		Bool("cleanup_scheduled", scheduled).
		Msg("client disconnected")
	return playerName, nil
}

// JoinPush adds a socket to a session's push membership, broadcasts
// player-joined to the whole session and acknowledges the new socket.
func (r *Relay) JoinPush(sessionID, clientID, socketID string) (int, error) {
	if err := required([2]string{"sessionId", sessionID}, [2]string{"rockstarId", clientID}); err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.registry.AddPushMember(sessionID, socketID)
	r.activateLocked(sessionID)
	count := r.registry.PushCount(sessionID)
	out := []delivery{
		{
			socketIDs: r.registry.PushMembers(sessionID),
			event:     Event{Name: EventPlayerJoined, Data: PlayerJoined{ClientID: clientID, MemberCount: count}},
		},
		{
			socketIDs: []string{socketID},
			event:     Event{Name: EventSessionJoined, Data: SessionJoined{SessionID: sessionID, MemberCount: count}},
		},
	}
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	r.logger.Info().
		Str("session_id", sessionID).
		Str("client_id", clientID).
		Str("socket_id", socketID).
		Int("sockets", count).
		Msg("socket joined session")
	return count, nil
}

// LeavePush removes a socket from a session, tells the remaining sockets and
// arms teardown when neither transport has members left.
func (r *Relay) LeavePush(sessionID, clientID, socketID string) {
	r.mu.Lock()
	if !r.registry.RemovePushMember(sessionID, socketID) {
		r.mu.Unlock()
		return
	}
	remaining := r.registry.PushCount(sessionID)
	out := []delivery{{
		socketIDs: r.registry.PushMembers(sessionID),
		event: Event{Name: EventPlayerLeft, Data: PlayerLeft{
			ClientID:    clientID,
			MemberCount: remaining,
			Text:        leaveText(clientID),
		}},
	}}
	scheduled := false
	if remaining == 0 {
		scheduled = r.scheduleIfEmptyLocked(sessionID)
	}
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	r.logger.Info().
		Str("session_id", sessionID).
		Str("socket_id", socketID).
		Int("sockets", remaining).
		Bool("cleanup_scheduled", scheduled).
		Msg("socket left session")
}

// PushMessage appends a chat message received over the push channel and fans
// it out to every socket in the session. The session must be known to the
// registry, but a REST connect is not required.
func (r *Relay) PushMessage(sessionID, clientID, socketID, body string) (Message, error) {
	if err := required([2]string{"sessionId", sessionID}); err != nil {
		return Message{}, err
	}
	// a socket that never joined has no client id to fall back on
	if err := required([2]string{"rockstarId", clientID}); err != nil {
		return Message{}, err
	}
	if err := required([2]string{"message", body}); err != nil {
		return Message{}, err
	}

	r.mu.Lock()
	if !r.registry.Known(sessionID) {
		r.mu.Unlock()
		return Message{}, notFound("Session %s not found. Join it first.", sessionID)
	}
	r.registry.Touch(sessionID)
	msg := newMessage(sessionID, clientID, clientID, body, KindChat, r.clock())
	msg.SocketID = socketID
	out := r.publishLocked(msg, nil)
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	return msg, nil
}

// Broadcast injects a broadcast message into every occupied session, or only
// into targetSessionID when it is set. It returns the number of sessions
// that received it.
func (r *Relay) Broadcast(body, sender, targetSessionID string) (int, time.Time, error) {
	if err := required([2]string{"message", body}); err != nil {
		return 0, time.Time{}, err
	}
	if strings.TrimSpace(sender) == "" {
		sender = DefaultBroadcastSender
	}

	r.mu.Lock()
	ts := r.clock()
	targets := r.registry.Occupied()
	if targetSessionID != "" {
		if !r.registry.IsOccupied(targetSessionID) {
			r.mu.Unlock()
			return 0, time.Time{}, notFound("Session %s has no connected clients", targetSessionID)
		}
		targets = []string{targetSessionID}
	}

	var out []delivery
	for _, sessionID := range targets {
		msg := newMessage(sessionID, "", sender, body, KindBroadcast, ts)
		out = r.publishLocked(msg, out)
	}
	d := r.deliverer
	r.mu.Unlock()

	r.dispatch(d, out)
	r.logger.Info().
		Str("sender", sender).
		Int("recipients", len(targets)).
		Msg("broadcast sent")
	return len(targets), ts, nil
}

// ListSessions returns a snapshot of every session known through either transport.
func (r *Relay) ListSessions() []SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.List(r.store.Count)
}

// GlobalRecent returns the last limit messages across all sessions and the
// total size of the global log.
func (r *Relay) GlobalRecent(limit int) ([]Message, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.GlobalRecent(limit), r.store.GlobalLen()
}

// Clear empties one session's visible history, or every log when sessionID
// is empty. Clearing a single session keeps its entries in the global log.
func (r *Relay) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID == "" {
		r.store.ClearAll()
		r.logger.Info().Msg("all messages cleared")
		return
	}
	r.store.ClearSession(sessionID)
	r.logger.Info().Str("session_id", sessionID).Msg("session messages cleared")
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		ActiveSessions: r.registry.Len(),
		TotalMessages:  r.store.GlobalLen(),
		Uptime:         r.now().Sub(r.startedAt),
	}
}
