package relay

import (
	"sync"
	"time"
)

// Scheduler arms deferred, cancellable teardown timers keyed by session id.
// Each timer carries the activity generation of its session at arm time; the
// fire callback decides whether that generation is still current.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*pendingTeardown
	fire    func(sessionID string, generation uint64)
	stopped bool
}

type pendingTeardown struct {
	timer      *time.Timer
	generation uint64
}

// NewScheduler creates a Scheduler that calls fire when a timer elapses.
func NewScheduler(fire func(sessionID string, generation uint64)) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*pendingTeardown),
		fire:   fire,
	}
}

// Schedule arms a one-shot timer for sessionID. A timer already pending for
// the same session is replaced.
func (s *Scheduler) Schedule(sessionID string, delay time.Duration, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if pending, ok := s.timers[sessionID]; ok {
		pending.timer.Stop()
	}

	pending := &pendingTeardown{generation: generation}
	pending.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.timers[sessionID]
		if !ok || current != pending {
			s.mu.Unlock()
			return
		}
		delete(s.timers, sessionID)
		s.mu.Unlock()

		s.fire(sessionID, generation)
	})
	s.timers[sessionID] = pending
}

// Cancel stops the pending timer of a session, if any, and reports whether
// one was stopped before firing.
func (s *Scheduler) Cancel(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.timers[sessionID]
	if !ok {
		return false
	}
	delete(s.timers, sessionID)
	return pending.timer.Stop()
}

// Pending reports whether a teardown is armed for sessionID.
func (s *Scheduler) Pending(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Stop cancels every pending timer and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, pending := range s.timers {
		pending.timer.Stop()
		delete(s.timers, id)
	}
}
