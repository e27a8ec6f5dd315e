// Package server coordinates socket registration, relay event delivery, and
// connection cleanup for the push channel via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/langheinrich/Cherax-EE-Chat/internal/metrics"
	"github.com/langheinrich/Cherax-EE-Chat/internal/relay"
)

const deliveryQueueSize = 256

// Hub manages all push-channel sockets and delivers relay events to them.
// Sockets are addressed by the id assigned on upgrade; session membership is
// owned by the relay, the hub only knows how to reach a socket.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	started    atomic.Bool

	relay  *relay.Relay
	cfg    Config
	logger zerolog.Logger
}

// NewHub creates a Hub bound to r. The caller attaches the hub back to the
// relay with r.Attach so relay events reach the sockets.
func NewHub(r *relay.Relay, cfg Config, logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan delivery, deliveryQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		relay:      r,
		cfg:        cfg,
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Deliver encodes ev once and queues it for the given sockets. It implements
// relay.Deliverer. Events raised after shutdown are dropped.
func (h *Hub) Deliver(socketIDs []string, ev relay.Event) {
	if len(socketIDs) == 0 {
		return
	}
	payload, err := json.Marshal(outgoingFrame{Event: ev.Name, Data: ev.Data})
	if err != nil {
		h.logger.Error().Err(err).Str("event", ev.Name).Msg("failed to encode event")
		return
	}

	select {
	case h.broadcast <- delivery{socketIDs: socketIDs, payload: payload}:
	case <-h.ctx.Done():
		metrics.DeliveriesDropped.WithLabelValues("queue_closed").Inc()
	}
}

// ClientCount returns the number of registered sockets.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	current, exists := h.clients[client.id]
	if !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling socket registration,
// unregistration, and event delivery. It returns once Shutdown is called.
func (h *Hub) Run() {
	if !h.started.CompareAndSwap(false, true) {
		h.logger.Warn().Msg("hub already running")
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			metrics.PushConnections.Inc()
			h.logger.Info().
				Str("socket_id", client.ID()).
				Str("remote_addr", client.addr).
				Int("clients", clientCount).
				Msg("socket registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if current, ok := h.clients[client.id]; ok && current == client {
				delete(h.clients, client.id)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				// Close the channel after releasing the lock
				close(client.send)
				metrics.PushConnections.Dec()
				h.logger.Info().
					Str("socket_id", client.ID()).
					Int("clients", clientCount).
					Msg("socket unregistered")
			} else {
				h.mutex.Unlock()
			}

		case d := <-h.broadcast:
			h.handleDelivery(d)
		}
	}
}

// handleDelivery sends one encoded frame to each addressed socket.
func (h *Hub) handleDelivery(d delivery) {
	clients := h.lookup(d.socketIDs)

	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, d.payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.removeFailedClients(clientsToRemove)
}

// lookup resolves socket ids to registered clients. Unknown ids are skipped;
// the socket may have gone away between the relay collecting the ids and
// the hub delivering to them.
func (h *Hub) lookup(socketIDs []string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(socketIDs))
	for _, id := range socketIDs {
		if client, ok := h.clients[id]; ok {
			clients = append(clients, client)
		}
	}
	return clients
}

// removeFailedClients removes clients that failed to receive messages and closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.id]; exists && current == client {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			metrics.DeliveriesDropped.WithLabelValues("buffer_full").Inc()
			metrics.PushConnections.Dec()
			h.logger.Warn().Str("socket_id", client.id).Msg("socket removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every send channel so the write pumps send a close
// frame, then closes the connections so the read pumps return.
func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("shutting down all socket connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, id)
		client.closed = true
		close(client.send)
		metrics.PushConnections.Dec()
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn().Err(err).Str("socket_id", client.id).Msg("error closing socket connection")
			}
		}
	}

	h.logger.Info().Int("closed", len(clients)).Msg("socket connections closed")
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached. A hub whose Run loop never started has
// nothing to wait for.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.cancel()
	if !h.started.Load() {
		h.logger.Info().Msg("hub was never started")
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-h.done
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
