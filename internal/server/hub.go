// Package server coordinates connection registration, presence tracking, and
// event fan-out for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Hub is the broadcast relay. It owns the session registry and a single event
// queue: every protocol event from every connection is processed by one
// goroutine (Run), so registry mutation and target enumeration are serialized
// by queue order rather than fine-grained locking. Delivery to each recipient
// is best effort; a connection whose send buffer is full is dropped rather
// than allowed to stall the others.
type Hub struct {
	registry *Registry
	clients  map[*Client]bool
	events   chan Event
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	logger   zerolog.Logger
}

// NewHub creates a Hub ready to accept connections once Run is started.
func NewHub(logger zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry: NewRegistry(),
		clients:  make(map[*Client]bool),
		events:   make(chan Event, 256),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Register queues a freshly accepted connection for the event loop. It
// reports false when the hub is shutting down and will never track the
// client; the caller is then responsible for closing the connection.
func (h *Hub) Register(c *Client) bool {
	return h.Dispatch(Event{Kind: KindConnect, Sender: c})
}

// Dispatch hands an event to the hub's queue. It reports false without
// queueing when the hub is shutting down, so pump goroutines never block on a
// stopped event loop. The cancellation check comes first; a select with both
// cases ready picks arbitrarily and could queue an event the stopped loop
// will never process.
func (h *Hub) Dispatch(ev Event) bool {
	select {
	case <-h.ctx.Done():
		return false
	default:
	}

	select {
	case h.events <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Participants returns a snapshot of all currently joined participants for
// the presence query endpoint.
func (h *Hub) Participants() []Participant {
	return h.registry.List()
}

// Run processes the event queue until Shutdown is called. It must be started
// in its own goroutine before the HTTP server begins accepting upgrades.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllConnections()
			return
		case ev := <-h.events:
			h.transition(ev)
		}
	}
}

// transition is the single dispatch point for the per-connection state
// machine: unjoined -> joined on a join event, terminal on disconnect.
func (h *Hub) transition(ev Event) {
	if ev.Sender == nil {
		h.logger.Warn().Msg("dropping event without a sender")
		return
	}

	switch ev.Kind {
	case KindConnect:
		h.addClient(ev.Sender)
	case KindJoin:
		h.handleJoin(ev)
	case KindMessage:
		h.relayMessage(ev)
	case KindTyping:
		h.relayPassthrough(ev, EventUserTyping)
	case KindStopTyping:
		h.relayPassthrough(ev, EventUserStopTyping)
	case KindDisconnect:
		h.dropClient(ev.Sender)
	}
}

// addClient tracks the connection and starts its pumps. Starting them here,
// on the event loop goroutine, guarantees pumps only run for clients the hub
// tracks and will tear down at shutdown.
func (h *Hub) addClient(c *Client) {
	h.mutex.Lock()
	c.closed = false
	h.clients[c] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if c.conn != nil {
		c.startPumps()
	}

	h.logger.Info().
		Str("client_id", c.ID).
		Str("addr", c.addr).
		Int("clients", clientCount).
		Msg("client connected")
}

// handleJoin records the announced identity and notifies everyone else. The
// relay performs no validation of its own: a payload without a username is
// registered as-is, and a repeated join overwrites the registry entry and
// re-broadcasts the notice.
func (h *Hub) handleJoin(ev Event) {
	var p Participant
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			h.logger.Debug().
				Str("client_id", ev.Sender.ID).
				Err(err).
				Msg("unparseable join payload; registering empty identity")
		}
	}

	h.registry.Put(ev.Sender.ID, p)
	h.logger.Info().
		Str("client_id", ev.Sender.ID).
		Str("username", p.Username).
		Msg("user joined")

	notice := PresenceNotice{Username: p.Username, Timestamp: serverNow()}
	frame, err := encodeFrame(EventUserJoined, notice)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding join notice")
		return
	}
	h.broadcastToOthers(ev.Sender, frame)
}

// relayMessage stamps the message with the server clock and fans it out to
// every other connection. The sender renders its own copy optimistically, so
// no echo is sent back. Message IDs are never deduplicated: a retransmission
// is stamped and relayed again.
func (h *Hub) relayMessage(ev Event) {
	var msg Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		h.logger.Warn().
			Str("client_id", ev.Sender.ID).
			Err(err).
			Msg("dropping unparseable message payload")
		return
	}

	msg.ServerTimestamp = serverNow()

	frame, err := encodeFrame(EventMessage, msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding message")
		return
	}

	h.logger.Debug().
		Str("client_id", ev.Sender.ID).
		Str("username", msg.Username).
		Str("message_id", msg.ID).
		Bool("reply", msg.ReplyTo != nil).
		Msg("relaying message")

	h.broadcastToOthers(ev.Sender, frame)
}

// relayPassthrough re-frames an opaque payload under an outbound event name
// and broadcasts it untouched. Typing indicators take this path; there is no
// stamping, deduplication, or timeout-based auto-clear.
func (h *Hub) relayPassthrough(ev Event, outbound string) {
	frame, err := encodeFrame(outbound, ev.Data)
	if err != nil {
		h.logger.Error().Err(err).Str("event", outbound).Msg("encoding passthrough event")
		return
	}
	h.broadcastToOthers(ev.Sender, frame)
}

// dropClient finalizes a disconnect. The registry entry is removed exactly
// once; the leave notice is only sent when a join had been recorded, so a
// connection that disconnects before joining leaves silently.
func (h *Hub) dropClient(c *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		close(c.send)
		h.logger.Info().
			Str("client_id", c.ID).
			Str("addr", c.addr).
			Int("clients", clientCount).
			Msg("client disconnected")
	} else {
		h.mutex.Unlock()
	}

	p, joined := h.registry.Get(c.ID)
	h.registry.Remove(c.ID)
	if !joined {
		return
	}

	h.logger.Info().
		Str("client_id", c.ID).
		Str("username", p.Username).
		Msg("user left")

	notice := PresenceNotice{Username: p.Username, Timestamp: serverNow()}
	frame, err := encodeFrame(EventUserLeft, notice)
	if err != nil {
		h.logger.Error().Err(err).Msg("encoding leave notice")
		return
	}
	h.broadcastToOthers(nil, frame)
}

// broadcastToOthers delivers a frame to every live connection except the
// sender. Sends are non-blocking: a recipient with a full or closed buffer is
// marked for removal instead of being retried.
func (h *Hub) broadcastToOthers(sender *Client, frame []byte) {
	clients := h.clientSnapshot()

	var failed []*Client
	for _, c := range clients {
		if sender != nil && c == sender {
			continue
		}
		if !h.trySend(c, frame) {
			failed = append(failed, c)
		}
	}

	h.removeFailedClients(failed)
}

func (h *Hub) clientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) trySend(c *Client, frame []byte) bool {
	// The lock spans the membership check and the send so the channel cannot
	// be closed between them.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[c]; !exists || c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// removeFailedClients evicts connections whose send buffers were full. Their
// registry entries stay until the transport-level disconnect arrives, which
// also produces the leave notice.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channels []chan []byte
	for _, c := range failed {
		if _, exists := h.clients[c]; exists {
			delete(h.clients, c)
			c.closed = true
			channels = append(channels, c.send)
			h.logger.Warn().
				Str("client_id", c.ID).
				Str("addr", c.addr).
				Msg("client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channels {
		close(ch)
	}
}

// closeAllConnections tears down every remaining client at shutdown. Closing
// the send channels wakes the write pumps so they can exit; closing the
// connections unblocks the read pumps.
func (h *Hub) closeAllConnections() {
	h.logger.Info().Msg("closing all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		c.closed = true
		delete(h.clients, c)
	}
	h.mutex.Unlock()

	for _, c := range clients {
		close(c.send)
		if c.conn == nil {
			continue
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn().
				Str("client_id", c.ID).
				Err(err).
				Msg("closing client connection")
		}
	}

	h.logger.Info().Int("clients", len(clients)).Msg("client connections closed")

	// Connections queued behind the cancellation never reached addClient, so
	// their transports are closed here instead.
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == KindConnect && ev.Sender != nil && ev.Sender.conn != nil {
				_ = ev.Sender.conn.Close()
			}
		default:
			return
		}
	}
}

// Shutdown stops the event loop and waits for all pump goroutines to finish,
// up to the given timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("hub shutting down")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info().Msg("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}
