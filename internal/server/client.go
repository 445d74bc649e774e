// Package server manages individual WebSocket clients: the outbound write
// pump, the handshake and receive loop, and teardown for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/chatrelay/internal/config"
	rlog "github.com/Tyrowin/chatrelay/internal/log"
	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// Client is one WebSocket connection. It implements registry.Transport for
// outbound traffic and runs the protocol state machine over inbound traffic.
type Client struct {
	id          uuid.UUID
	conn        *websocket.Conn
	hub         *Hub
	addr        string
	cfg         config.Config
	rateLimiter *rateLimiter
	// pumpLogger never changes; logger gains the identity after the handshake
	// and is only used by the run goroutine.
	pumpLogger *logrus.Entry
	logger     *logrus.Entry

	mu         sync.Mutex
	send       chan []byte
	closed     bool
	closeFrame []byte

	// Owned by the run goroutine.
	state    State
	session  *registry.Session
	teardown sync.Once
}

// NewClient creates a Client for conn. The client does nothing until the hub
// starts its pumps.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.cfg
	id := uuid.New()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	logger := hub.logger.WithFields(rlog.ConnFields(id, addr))
	return &Client{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		cfg:         cfg,
		rateLimiter: newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		pumpLogger:  logger,
		logger:      logger,
		send:        make(chan []byte, cfg.SendBufferSize),
		state:       StateConnecting,
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() uuid.UUID { return c.id }

// Send queues frame for the write pump. It never blocks.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrTransportClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the connection with a normal closure.
func (c *Client) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith stops accepting frames and asks the write pump to flush the queue,
// send a close frame with code and reason, and close the socket. Only the
// first call has any effect.
func (c *Client) CloseWith(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeFrame = websocket.FormatCloseMessage(code, reason)
	close(c.send)
	c.mu.Unlock()

	// Bound the flush so a stalled peer cannot keep the socket, and with it a
	// blocked read, alive indefinitely.
	if c.conn != nil {
		time.AfterFunc(c.cfg.WriteWait, c.closeConnection)
	}
	return nil
}

// run drives the state machine until the connection is closed.
func (c *Client) run() {
	var err error
	for c.state != StateClosed {
		var next State
		next, err = c.step()
		if !canTransition(c.state, next) {
			c.logger.WithFields(logrus.Fields{"from": c.state, "to": next}).Error("Illegal state transition")
			next = StateClosed
		}
		if next != c.state {
			c.logger.WithField("state", next).Debug("State changed")
		}
		c.state = next
	}
	c.finish(err)
}

// step performs the work of the current state and returns the next one. A
// non-nil error is only returned together with StateClosed.
func (c *Client) step() (State, error) {
	switch c.state {
	case StateConnecting:
		return c.accept()
	case StateAwaitingHello:
		return c.awaitHello()
	case StateActive:
		return c.receive()
	default:
		return StateClosed, nil
	}
}

// accept arms the handshake deadline.
func (c *Client) accept() (State, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout)); err != nil {
		return StateClosed, fmt.Errorf("%w: set handshake deadline: %v", ErrDisconnected, err)
	}
	c.logger.Debug("Awaiting hello")
	return StateAwaitingHello, nil
}

// awaitHello reads the first envelope, registers the session, and announces
// the new participant.
func (c *Client) awaitHello() (State, error) {
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		if isTimeout(err) {
			return StateClosed, ErrHandshakeTimeout
		}
		return StateClosed, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	in, err := protocol.Decode(frame)
	if err != nil {
		return StateClosed, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if in.Type != protocol.TypeHello {
		return StateClosed, fmt.Errorf("%w: first envelope is %q", ErrInvalidHandshake, in.Type)
	}

	identity := in.Hello.User
	session := registry.NewSession(identity, c.id, c)
	if err := c.hub.registry.Add(session); err != nil {
		c.reject(err)
		return StateClosed, err
	}
	c.session = session
	c.logger = c.logger.WithField("identity", identity)

	c.setupActiveConnection()
	c.logger.WithField("clients", c.hub.registry.Len()).Info("Client joined")

	c.hub.router.Broadcast(protocol.NewUserConnected(identity))
	c.hub.router.Broadcast(protocol.NewChatStatus(c.hub.registry.Snapshot()))
	return StateActive, nil
}

// reject tells an unregistered peer why it is being turned away. The frame is
// queued directly because the peer has no registry entry to route through.
func (c *Client) reject(cause error) {
	frame, err := protocol.Encode(protocol.NewError(cause.Error()))
	if err != nil {
		return
	}
	if err := c.Send(frame); err != nil {
		c.logger.WithError(err).Debug("Could not queue rejection")
	}
}

// setupActiveConnection replaces the handshake deadline with the keepalive
// deadline, which every pong extends.
func (c *Client) setupActiveConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.WithError(err).Warn("Error setting read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.WithError(err).Warn("Error setting read deadline in pong handler")
		}
		return nil
	})
}

// receive handles one inbound envelope. Only transport failures end the loop.
func (c *Client) receive() (State, error) {
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		c.handleReadError(err)
		return StateClosed, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	if !c.checkRateLimit() {
		return StateActive, nil
	}

	in, err := protocol.Decode(frame)
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		c.logger.WithError(err).Debug("Ignoring envelope")
		return StateActive, nil
	case err != nil:
		c.logger.WithError(err).Warn("Invalid envelope")
		c.reply(protocol.NewError("invalid message"))
		return StateActive, nil
	}

	switch in.Type {
	case protocol.TypeReceiveStatus:
		c.reply(protocol.NewChatStatus(c.hub.registry.Snapshot()))
	case protocol.TypeSendMessage:
		if err := c.handleSendMessage(in.SendMessage); err != nil {
			c.logger.WithError(err).Info("Rejected message")
			c.reply(protocol.NewError(err.Error()))
		}
	default:
		c.logger.WithField("type", in.Type).Debug("Ignoring envelope after handshake")
	}
	return StateActive, nil
}

// handleSendMessage routes a chat message to its receivers, or to everyone
// (the sender included) when no receivers are listed.
func (c *Client) handleSendMessage(msg *protocol.SendMessage) error {
	if n := utf8.RuneCountInString(msg.Text); n > c.cfg.MaxTextLength {
		return fmt.Errorf("%w: %d characters, limit is %d", ErrMessageTooLong, n, c.cfg.MaxTextLength)
	}

	identity := c.session.Identity()
	env := protocol.NewReceiveMessage(identity, c.hub.now(), msg.Text)

	if len(msg.Receivers) == 0 {
		delivered := c.hub.router.Broadcast(env)
		c.logger.WithField("delivered", delivered).Debug("Broadcast message")
		return nil
	}

	delivered := 0
	for _, receiver := range lo.Uniq(msg.Receivers) {
		if c.hub.router.SendTo(receiver, env) {
			delivered++
		}
	}
	c.logger.WithFields(logrus.Fields{
		"requested": len(msg.Receivers),
		"delivered": delivered,
	}).Debug("Sent targeted message")
	return nil
}

// reply unicasts env to this client through the router.
func (c *Client) reply(env protocol.Envelope) {
	c.hub.router.SendTo(c.session.Identity(), env)
}

// checkRateLimit reports whether the envelope may be processed and tells the
// client when it has been throttled.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warnf("Rate limit exceeded (%d messages per %s); discarding message", c.cfg.RateLimit.Burst, c.cfg.RateLimit.RefillInterval)
		c.reply(protocol.NewError("rate limit exceeded"))
		return false
	}
	return true
}

// handleReadError logs a read failure at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warnf("Message exceeded maximum size of %d bytes", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.WithError(err).Debug("Client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.WithError(err).Debug("Connection closed")
	case isTimeout(err):
		c.logger.WithError(err).Info("Keepalive timeout")
	default:
		c.logger.WithError(err).Warn("WebSocket read error")
	}
}

// finish deregisters the session, announces the departure, and closes the
// transport. It runs once per connection.
func (c *Client) finish(cause error) {
	c.teardown.Do(func() {
		entry := c.logger
		if cause != nil {
			entry = entry.WithError(cause)
		}

		if c.session != nil {
			identity := c.session.Identity()
			c.hub.registry.RemoveSession(c.session)
			c.hub.router.Broadcast(protocol.NewUserDisconnected(identity))
			entry.WithFields(logrus.Fields{
				"duration": time.Since(c.session.ConnectedAt()).Round(time.Millisecond),
				"clients":  c.hub.registry.Len(),
			}).Info("Client left")
		} else {
			entry.Info("Connection closed before handshake completed")
		}

		code, reason := closeReason(cause)
		_ = c.CloseWith(code, reason)
		c.hub.forget(c)
	})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			c.pumpLogger.WithError(err).Warn("Error closing connection")
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.pumpLogger.WithError(err).Warn("Error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.pumpLogger.WithError(err).Warn("Error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends the close frame recorded by CloseWith
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, c.closeFrame); err != nil {
		if !isExpectedCloseError(err) {
			c.pumpLogger.WithError(err).Debug("Error writing close message")
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.pumpLogger.WithError(err).Warn("Error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.pumpLogger.WithError(err).Debug("Error writing ping message")
		return false
	}
	return true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
