package server

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub supervises live WebSocket clients. It starts their pumps on
// registration, closes their outbound queues on unregistration and tears every
// connection down on shutdown. Room fan-out lives in the relay broadcaster.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub creates a Hub. Run must be started before clients are registered.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Context is cancelled when the hub shuts down.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Register hands c to the hub, which starts its pumps. It reports false when
// the hub is already shutting down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes c and closes its outbound queue.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
		c.closeSend()
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It returns after Shutdown.
func (h *Hub) Run() {
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
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			client.logger.Info().Int("clients", clientCount).Msg("client registered")

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
			_, ok := h.clients[client]
			delete(h.clients, client)
			clientCount := len(h.clients)
			h.mutex.Unlock()

			client.closeSend()
			if ok {
				client.logger.Info().Int("clients", clientCount).Msg("client unregistered")
			}
		}
	}
}

// shutdownClients closes every registered connection; their read pumps then
// run the normal disconnect path.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.closeConn("server shutdown")
	}

	h.logger.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown cancels the hub, closes all clients and waits for their pumps to
// finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
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
