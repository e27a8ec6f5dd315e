package relay

import (
	"sort"
	"time"
)

// SocketOnlyClient is the placeholder primary client of a session that has
// only been joined through the push channel.
const SocketOnlyClient = "socket-only"

// Session is the canonical record of a session created by a REST connect.
type Session struct {
	ID              string    `json:"sessionId"`
	PrimaryClientID string    `json:"rockstarId"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastActivity    time.Time `json:"lastActivity"`
}

// SessionSummary is the listing view of a session across both transports.
type SessionSummary struct {
	SessionID       string    `json:"sessionId"`
	PrimaryClientID string    `json:"rockstarId"`
	ClientIDs       []string  `json:"rockstarIds"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastActivity    time.Time `json:"lastActivity"`
	MessageCount    int       `json:"messageCount"`
	RestClients     int       `json:"restClients"`
	SocketClients   int       `json:"socketClients"`
}

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// entry tracks everything the registry knows about one session id.
type entry struct {
	record      *Session
	firstSeen   time.Time
	restMembers set
	pushMembers set
	generation  uint64
}

func (e *entry) occupied() bool {
	return len(e.restMembers) > 0 || len(e.pushMembers) > 0
}

// Registry tracks session records and their two membership sets.
// It is not safe for concurrent use; the Relay serializes access.
type Registry struct {
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry creates an empty Registry using now as its clock.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries: make(map[string]*entry),
		now:     now,
	}
}

func (r *Registry) ensure(sessionID string) *entry {
	e, ok := r.entries[sessionID]
	if !ok {
		e = &entry{
			firstSeen:   r.now(),
			restMembers: make(set),
			pushMembers: make(set),
		}
		r.entries[sessionID] = e
	}
	return e
}

// Upsert creates the canonical record on first call and refreshes
// lastActivity afterwards. connectedAt never changes once set.
func (r *Registry) Upsert(sessionID, clientID string) Session {
	e := r.ensure(sessionID)
	now := r.now()
	if e.record == nil {
		e.record = &Session{ID: sessionID, ConnectedAt: now}
	}
	e.record.PrimaryClientID = clientID
	e.record.LastActivity = now
	return *e.record
}

// Touch refreshes lastActivity of a connected session.
func (r *Registry) Touch(sessionID string) (Session, bool) {
	e, ok := r.entries[sessionID]
	if !ok || e.record == nil {
		return Session{}, false
	}
	e.record.LastActivity = r.now()
	return *e.record, true
}

// Known reports whether the registry has any entry for sessionID.
func (r *Registry) Known(sessionID string) bool {
	_, ok := r.entries[sessionID]
	return ok
}

func (r *Registry) AddRestMember(sessionID, clientID string) {
	r.ensure(sessionID).restMembers[clientID] = struct{}{}
}

func (r *Registry) RemoveRestMember(sessionID, clientID string) {
	if e, ok := r.entries[sessionID]; ok {
		delete(e.restMembers, clientID)
	}
}

func (r *Registry) AddPushMember(sessionID, socketID string) {
	r.ensure(sessionID).pushMembers[socketID] = struct{}{}
}

func (r *Registry) RemovePushMember(sessionID, socketID string) bool {
	e, ok := r.entries[sessionID]
	if !ok {
		return false
	}
	if _, member := e.pushMembers[socketID]; !member {
		return false
	}
	delete(e.pushMembers, socketID)
	return true
}

// IsOccupied reports whether either membership set of a session is non-empty.
func (r *Registry) IsOccupied(sessionID string) bool {
	e, ok := r.entries[sessionID]
	return ok && e.occupied()
}

// PushMembers returns the socket ids joined to a session, sorted.
func (r *Registry) PushMembers(sessionID string) []string {
	e, ok := r.entries[sessionID]
	if !ok {
		return nil
	}
	return e.pushMembers.sorted()
}

// PushCount returns the number of sockets joined to a session.
func (r *Registry) PushCount(sessionID string) int {
	if e, ok := r.entries[sessionID]; ok {
		return len(e.pushMembers)
	}
	return 0
}

// RestCount returns the number of REST clients connected to a session.
func (r *Registry) RestCount(sessionID string) int {
	if e, ok := r.entries[sessionID]; ok {
		return len(e.restMembers)
	}
	return 0
}

// Bump advances the activity generation of a session and returns it.
func (r *Registry) Bump(sessionID string) uint64 {
	e := r.ensure(sessionID)
	e.generation++
	return e.generation
}

// Generation returns the current activity generation of a session.
func (r *Registry) Generation(sessionID string) (uint64, bool) {
	e, ok := r.entries[sessionID]
	if !ok {
		return 0, false
	}
	return e.generation, true
}

// Occupied returns the ids of every occupied session, sorted.
func (r *Registry) Occupied() []string {
	ids := make([]string, 0, len(r.entries))
	for id, e := range r.entries {
		if e.occupied() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Delete forgets a session entirely.
func (r *Registry) Delete(sessionID string) {
	delete(r.entries, sessionID)
}

// Len returns the number of sessions known through either transport.
func (r *Registry) Len() int {
	return len(r.entries)
}

// List returns a summary of every known session sorted by id. Sessions that
// were only joined through the push channel report placeholder values for the
// fields a REST connect would have set. count supplies message counts.
func (r *Registry) List(count func(sessionID string) int) []SessionSummary {
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]SessionSummary, 0, len(ids))
	for _, id := range ids {
		e := r.entries[id]
		summary := SessionSummary{
			SessionID:       id,
			PrimaryClientID: SocketOnlyClient,
			ClientIDs:       e.restMembers.sorted(),
			ConnectedAt:     e.firstSeen,
			LastActivity:    e.firstSeen,
			RestClients:     len(e.restMembers),
			SocketClients:   len(e.pushMembers),
		}
		if e.record != nil {
			summary.PrimaryClientID = e.record.PrimaryClientID
			summary.ConnectedAt = e.record.ConnectedAt
			summary.LastActivity = e.record.LastActivity
		}
		if count != nil {
			summary.MessageCount = count(id)
		}
		out = append(out, summary)
	}
	return out
}
