// Package bot implements a polling responder used to exercise a relay by hand.
package bot

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/client"
	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

// DefaultReplies are the canned answers picked at random.
var DefaultReplies = []string{
	"Hey there!",
	"Everything alright?",
	"Test reply 👋",
	"Ping!",
	"Bot reporting in.",
	"How is the test going?",
}

// API is the subset of the relay client the responder needs.
type API interface {
	Connect(ctx context.Context, sessionID, clientID string) error
	Send(ctx context.Context, sessionID, clientID, message string) (*client.SendResult, error)
	Poll(ctx context.Context, sessionID, clientID string, since time.Time) ([]relay.Message, error)
	Disconnect(ctx context.Context, sessionID, clientID string) (string, error)
}

// Config controls a Responder.
type Config struct {
	SessionID    string
	BotID        string
	Interval     time.Duration
	Replies      []string
	Announcement string
}

// DefaultConfig returns the settings the bot uses when none are given.
func DefaultConfig() Config {
	return Config{
		SessionID:    "lobby",
		BotID:        "ResponderBot",
		Interval:     1500 * time.Millisecond,
		Replies:      DefaultReplies,
		Announcement: "ResponderBot joined for testing",
	}
}

// Responder joins a session over the polling API and answers every message
// from someone else with a canned reply.
type Responder struct {
	api    API
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Responder. Zero config fields take their defaults.
func New(api API, cfg Config, logger zerolog.Logger) *Responder {
	defaults := DefaultConfig()
	if cfg.SessionID == "" {
		cfg.SessionID = defaults.SessionID
	}
	if cfg.BotID == "" {
		cfg.BotID = defaults.BotID
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if len(cfg.Replies) == 0 {
		cfg.Replies = defaults.Replies
	}
	return &Responder{
		api: api,
		cfg: cfg,
		logger: logger.With().
			Str("component", "bot").
			Str("session_id", cfg.SessionID).
			Str("bot_id", cfg.BotID).
			Logger(),
		now: time.Now,
	}
}

// Run connects, announces itself and polls until ctx is cancelled, then
// disconnects. Poll and send failures are logged and retried on the next
// tick; only the initial connect is fatal.
func (b *Responder) Run(ctx context.Context) error {
	since := b.now()
	if err := b.api.Connect(ctx, b.cfg.SessionID, b.cfg.BotID); err != nil {
		return err
	}
	b.logger.Info().Msg("connected")
	defer b.disconnect()

	if b.cfg.Announcement != "" {
		b.send(ctx, b.cfg.Announcement)
	}

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			since = b.poll(ctx, since)
		}
	}
}

// poll fetches everything newer than since, replies where due and returns
// the advanced watermark.
func (b *Responder) poll(ctx context.Context, since time.Time) time.Time {
	messages, err := b.api.Poll(ctx, b.cfg.SessionID, b.cfg.BotID, since)
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Warn().Err(err).Msg("poll failed")
		}
		return since
	}

	for _, msg := range messages {
		if msg.Timestamp.After(since) {
			since = msg.Timestamp
		}
		if !b.shouldReply(msg) {
			continue
		}
		b.send(ctx, b.cfg.Replies[rand.Intn(len(b.cfg.Replies))])
	}
	return since
}

func (b *Responder) shouldReply(msg relay.Message) bool {
	if msg.IsSystemMessage {
		return false
	}
	return msg.ClientID != b.cfg.BotID && msg.Sender != b.cfg.BotID
}

func (b *Responder) send(ctx context.Context, message string) {
	if _, err := b.api.Send(ctx, b.cfg.SessionID, b.cfg.BotID, message); err != nil {
		if ctx.Err() == nil {
			b.logger.Warn().Err(err).Msg("send failed")
		}
		return
	}
	b.logger.Debug().Str("message", message).Msg("sent")
}

func (b *Responder) disconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := b.api.Disconnect(ctx, b.cfg.SessionID, b.cfg.BotID); err != nil {
		if client.IsNotFound(err) {
			b.logger.Debug().Msg("session already gone")
			return
		}
		b.logger.Warn().Err(err).Msg("disconnect failed")
		return
	}
	b.logger.Info().Msg("disconnected")
}
