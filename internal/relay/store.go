package relay

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/langheinrich/Cherax-EE-Chat/internal/msglog"
)

// Store keeps the bounded per-session logs and the flat global log.
// It is not safe for concurrent use; the Relay serializes access.
type Store struct {
	sessionLimit int
	sessions     map[string]*msglog.Log[Message]
	global       *msglog.Log[Message]
}

// NewStore creates a Store whose per-session logs hold at most sessionLimit
// messages.
func NewStore(sessionLimit int) *Store {
	return &Store{
		sessionLimit: sessionLimit,
		sessions:     make(map[string]*msglog.Log[Message]),
		global:       msglog.New[Message](msglog.Unbounded),
	}
}

// Append pushes msg onto its session's log, evicting the oldest entry on
// overflow, and mirrors it into the global log.
func (s *Store) Append(sessionID string, msg Message) {
	log, ok := s.sessions[sessionID]
	if !ok {
		log = msglog.New[Message](s.sessionLimit)
		s.sessions[sessionID] = log
	}
	log.Append(msg)
	s.global.Append(msg)
}

// Recent returns up to limit of the newest messages of a session. When since
// is non-nil only messages strictly newer than it are considered.
func (s *Store) Recent(sessionID string, since *time.Time, limit int) []Message {
	log, ok := s.sessions[sessionID]
	if !ok {
		return []Message{}
	}
	if since == nil {
		return log.Tail(limit)
	}
	watermark := *since
	return log.TailFunc(limit, func(m Message) bool {
		return m.Timestamp.After(watermark)
	})
}

// HasJoin reports whether the session log still holds a join message for clientID.
func (s *Store) HasJoin(sessionID, clientID string) bool {
	log, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	return log.Any(func(m Message) bool {
		return m.Kind == KindJoin && m.ClientID == clientID
	})
}

// GlobalRecent returns the last limit entries of the global log in insertion order.
func (s *Store) GlobalRecent(limit int) []Message {
	return s.global.Tail(limit)
}

// GlobalLen returns the size of the global log.
func (s *Store) GlobalLen() int {
	return s.global.Len()
}

// Count returns the size of a session's log.
func (s *Store) Count(sessionID string) int {
	if log, ok := s.sessions[sessionID]; ok {
		return log.Len()
	}
	return 0
}

// ClearSession empties a session's log. The global log keeps its copies.
func (s *Store) ClearSession(sessionID string) {
	if log, ok := s.sessions[sessionID]; ok {
		log.Reset()
	}
}

// PurgeSession drops a session's log and removes its entries from the global log.
func (s *Store) PurgeSession(sessionID string) int {
	delete(s.sessions, sessionID)
	return s.global.RemoveFunc(func(m Message) bool {
		return m.SessionID == sessionID
	})
}

// ClearAll empties every session log and the global log.
func (s *Store) ClearAll() {
	s.sessions = make(map[string]*msglog.Log[Message])
	s.global.Reset()
}

// ParseWatermark converts a polling watermark in Unix milliseconds into a
// time. Fractional milliseconds are accepted. An empty string means no
// watermark.
func ParseWatermark(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return nil, invalidArgument("since must be a numeric timestamp")
	}
	ts := time.UnixMilli(int64(math.Floor(ms)))
	return &ts, nil
}
