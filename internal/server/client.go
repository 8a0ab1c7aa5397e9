// Package server manages individual WebSocket connections, handling the
// read/write pumps and lifecycle for each client.
package server

import (
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client represents one live WebSocket connection. The ID is server-assigned
// and opaque; it keys the session registry. Outbound frames are queued on the
// buffered send channel and written by the write pump, so a slow connection
// never blocks the hub's fan-out.
type Client struct {
	ID      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	closed  bool
	cfg     WebSocketConfig
	limiter *rateLimiter
	logger  zerolog.Logger
}

// NewClient creates a Client for an accepted connection. A nil conn is
// tolerated so hub behavior can be exercised without a live transport.
func NewClient(id string, conn *websocket.Conn, hub *Hub, addr string, cfg WebSocketConfig, rl RateLimitConfig, logger zerolog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		ID:      id,
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     hub,
		addr:    addr,
		cfg:     cfg,
		limiter: newRateLimiter(rl.Burst, rl.RefillInterval),
		logger:  logger.With().Str("client_id", id).Str("addr", addr).Logger(),
	}
}

// SendChan exposes the outbound frame queue for reading.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// startPumps launches the read and write pumps. The hub calls it from the
// connect transition, so the wait group is only touched while the event loop
// is live and Shutdown cannot race the Add.
func (c *Client) startPumps() {
	c.hub.wg.Add(2)
	go func() {
		defer c.hub.wg.Done()
		c.writePump()
	}()
	go func() {
		defer c.hub.wg.Done()
		c.readPump()
	}()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Dispatch(Event{Kind: KindDisconnect, Sender: c})
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("closing connection after read pump")
		}
	}()

	c.setupReadDeadlines()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if c.limiter != nil && !c.limiter.allow() {
			c.logger.Warn().Msg("rate limit exceeded; discarding frame")
			continue
		}

		ev, ok := parseEvent(c, raw)
		if !ok {
			c.logger.Debug().Msg("dropping unrecognized frame")
			continue
		}
		c.hub.Dispatch(ev)
	}
}

func (c *Client) setupReadDeadlines() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("setting read deadline in pong handler")
		}
		return nil
	})
}

// logReadError classifies the error that ended the read loop. Expected close
// scenarios log at debug; anything else is surfaced at warn.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().
			Int64("limit", c.cfg.MaxMessageSize).
			Msg("frame exceeded maximum message size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("connection closed")
	default:
		c.logger.Warn().Err(err).Msg("websocket read error")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("closing connection after write pump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Warn().Err(err).Msg("setting write deadline")
				return
			}
			if !ok {
				// The hub closed the channel on disconnect or eviction.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					c.logger.Debug().Err(err).Msg("writing close message")
				}
				return
			}
			if !c.writeFrame(frame) {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.logger.Warn().Err(err).Msg("setting write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug().Err(err).Msg("writing ping")
				}
				return
			}
		}
	}
}

// writeFrame writes one frame plus anything already queued behind it. Each
// frame goes out as its own text message so receivers can decode one JSON
// envelope per message.
func (c *Client) writeFrame(frame []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn().Err(err).Msg("writing frame")
		return false
	}

	queued := len(c.send)
	for i := 0; i < queued; i++ {
		if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
			c.logger.Warn().Err(err).Msg("writing queued frame")
			return false
		}
	}
	return true
}

// isExpectedCloseError reports whether an error is part of ordinary
// connection teardown.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
