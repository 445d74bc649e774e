// Package server coordinates connection acceptance, the shared session
// registry, message routing, and shutdown for the chat relay via the Hub type.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/registry"
	"github.com/Tyrowin/chatrelay/internal/router"
)

// Hub owns the registry and router shared by every connection. Create one per
// server with NewHub and pass it to SetupRoutes.
type Hub struct {
	cfg      config.Config
	registry *registry.Registry
	router   *router.Router
	origins  *originPolicy
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub from cfg. A nil logger uses the logrus standard logger.
func NewHub(cfg config.Config, logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = config.Sanitize(cfg)
	reg := registry.New()

	h := &Hub{
		cfg:      cfg,
		registry: reg,
		router:   router.New(reg, logger, cfg.BroadcastConcurrency),
		origins:  newOriginPolicy(cfg.AllowedOrigins, logger),
		logger:   logger,
		now:      time.Now,
		clients:  make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.check,
	}
	return h
}

// Registry returns the hub's session registry.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() config.Config {
	return h.cfg
}

// ServeWS upgrades the request to a WebSocket and starts the connection's
// write pump and protocol state machine.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)
	if !h.track(client) {
		code, reason := closeReason(ErrHubClosed)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.run()
	}()
}

// track records a live connection and reserves its two goroutines in the
// wait group, unless the hub is shutting down.
func (h *Hub) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	return true
}

// forget drops a finished connection.
func (h *Hub) forget(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Shutdown closes every connection, registered or still in its handshake,
// and waits for their goroutines to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	code, reason := closeReason(ErrHubClosed)
	for _, c := range clients {
		_ = c.CloseWith(code, reason)
	}
	h.logger.Infof("Closing %d client connections", len(clients))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
