package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/metrics"
	"github.com/Kritesh10/real-time-chat-app/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// maxDecodeFailures is the number of consecutive undecodable frames after
	// which the connection is closed.
	maxDecodeFailures = 3
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// dispatcher is the part of the relay core a client drives.
type dispatcher interface {
	Dispatch(ctx context.Context, connID string, ev relay.Inbound) error
}

// Client is one WebSocket connection. Its read pump is the only goroutine that
// feeds the connection's events to the relay, so they are handled in arrival
// order. Its write pump is the only writer on the socket.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	relay          dispatcher
	addr           string
	maxMessageSize int64
	limiter        *tokenBucket
	logger         zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a Client for conn with a fresh connection id.
func NewClient(conn *websocket.Conn, hub *Hub, d dispatcher, addr string, cfg Config, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		hub:            hub,
		relay:          d,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        newTokenBucket(cfg.RateLimit),
		logger:         logger.With().Str("conn_id", id).Str("remote_addr", addr).Logger(),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Deliver queues frame for the write pump without blocking. A full queue
// means the peer is not keeping up; the connection is then closed.
func (c *Client) Deliver(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.closed = true
		close(c.send)
		c.logger.Warn().Msg("closing slow client: send buffer full")
		return errSendBufferFull
	}
}

// closeSend closes the outbound queue once; the write pump then sends a close
// frame and exits.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeConn sends a close frame with reason and closes the socket.
func (c *Client) closeConn(reason string) {
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("error closing client connection")
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// disconnectReason classifies a read error into the reason recorded for the
// disconnect.
func (c *Client) disconnectReason(err error) string {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("max_bytes", c.maxMessageSize).Msg("frame exceeded maximum size")
		return "message too large"

	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Debug().Err(err).Msg("client closed connection")
		return "client closed"

	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("connection closed")
		return "connection closed"

	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
		c.logger.Warn().Err(err).Msg("unexpected WebSocket close")
		return "abnormal closure"

	default:
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logger.Info().Msg("client timed out")
			return "timeout"
		}
		c.logger.Warn().Err(err).Msg("WebSocket read error")
		return "read error"
	}
}

// replyError sends an error event to this client only.
func (c *Client) replyError(message string) {
	frame, err := relay.EncodeFrame(relay.EventError, relay.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	if err := c.Deliver(frame); err != nil {
		c.logger.Debug().Err(err).Msg("error reply not delivered")
	}
}

func (c *Client) readPump() {
	reason := "connection closed"
	defer func() {
		// Storage writes of the disconnect path must not be cut short by shutdown.
		ctx := context.WithoutCancel(c.hub.Context())
		if err := c.relay.Dispatch(ctx, c.id, relay.Disconnect{Reason: reason}); err != nil {
			c.logger.Debug().Err(err).Msg("disconnect")
		}
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	decodeFailures := 0
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			reason = c.disconnectReason(err)
			return
		}

		if !c.limiter.allow() {
			metrics.MessagesRejected.WithLabelValues("rate_limited").Inc()
			c.logger.Warn().Msg("rate limit exceeded; discarding frame")
			c.replyError("rate limit exceeded")
			continue
		}

		ev, err := relay.DecodeInbound(raw)
		if err != nil {
			decodeFailures++
			metrics.MessagesRejected.WithLabelValues("invalid_frame").Inc()
			c.logger.Warn().Err(err).Int("consecutive", decodeFailures).Msg("invalid frame")
			c.replyError(chaterr.ClientMessage(err))
			if decodeFailures >= maxDecodeFailures {
				reason = "too many invalid frames"
				c.closeConn(reason)
				return
			}
			continue
		}
		decodeFailures = 0

		if err := c.relay.Dispatch(c.hub.Context(), c.id, ev); err != nil {
			c.logger.Debug().Err(err).Msg("event rejected")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
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
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing ping message")
		}
		return false
	}
	return true
}
