// Package hub fans room traffic out to websocket participants. Snapshot
// delivery is best-effort (drop-and-supersede); control traffic such as
// membership views is never dropped, a participant that cannot keep up
// with it is disconnected instead.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"

	"playroom/internal/metrics"
	"playroom/internal/protocol"
)

const (
	snapshotBuffer = 8
	controlBuffer  = 64
)

// Conn is the writable side of one participant's transport. Satisfied
// by *websocket.Conn; tests substitute their own.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Client is a single participant's attachment to a room.
type Client struct {
	ParticipantID string
	Conn          Conn
	snapshots     chan []byte
	control       chan []byte
	closeOnce     sync.Once
	closed        chan struct{}
}

// NewClient wraps a connection for registration with a Hub.
func NewClient(participantID string, conn Conn) *Client {
	return &Client{
		ParticipantID: participantID,
		Conn:          conn,
		snapshots:     make(chan []byte, snapshotBuffer),
		control:       make(chan []byte, controlBuffer),
		closed:        make(chan struct{}),
	}
}

// WritePump drains both channels onto the connection until the context
// ends or the client is closed. Control messages are flushed ahead of
// any queued snapshots.
func (c *Client) WritePump(ctx context.Context) {
	for {
		// Control first: membership must not queue behind state spam.
		select {
		case msg := <-c.control:
			if !c.write(ctx, msg) {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case msg := <-c.control:
			if !c.write(ctx, msg) {
				return
			}
		case msg := <-c.snapshots:
			if !c.write(ctx, msg) {
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) bool {
	if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return false
	}
	return true
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.Conn != nil {
			c.Conn.Close(websocket.StatusNormalClosure, reason)
		}
	})
}

// Hub manages one room's clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register attaches a client, replacing (and closing) any previous
// attachment for the same participant, as happens on reconnect.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	prev := h.clients[c.ParticipantID]
	h.clients[c.ParticipantID] = c
	h.mu.Unlock()

	if prev != nil {
		prev.close("superseded by reconnect")
		return
	}
	metrics.ConnectedParticipants.Inc()
}

// Detach removes a client at connection teardown, but only if it is
// still the participant's current attachment. A client superseded by a
// fast reconnect must not tear down its replacement. Reports whether
// the client was the active attachment.
func (h *Hub) Detach(c *Client) bool {
	h.mu.Lock()
	current := h.clients[c.ParticipantID] == c
	if current {
		delete(h.clients, c.ParticipantID)
	}
	h.mu.Unlock()

	c.close("detached")
	if current {
		metrics.ConnectedParticipants.Dec()
	}
	return current
}

// Unregister detaches a participant. Idempotent; messages broadcast
// after removal are simply not delivered to it.
func (h *Hub) Unregister(participantID string) {
	h.mu.Lock()
	c, ok := h.clients[participantID]
	if ok {
		delete(h.clients, participantID)
	}
	h.mu.Unlock()

	if ok {
		c.close("unregistered")
		metrics.ConnectedParticipants.Dec()
	}
}

// BroadcastSnapshot delivers a state snapshot to every client. A client
// whose snapshot channel is full is skipped: the next broadcast carries
// full state anyway, and the simulation loop must never wait on a slow
// consumer.
func (h *Hub) BroadcastSnapshot(msg protocol.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Hub] marshal snapshot: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.snapshots <- data:
		default:
			metrics.BroadcastsDropped.Inc()
		}
	}
}

// BroadcastControl delivers a membership view or other control message
// to every client. Control is never silently dropped: a participant
// whose control channel overflowed is broken and gets disconnected so
// the rejoin path can restore it to a consistent state.
func (h *Hub) BroadcastControl(msg protocol.ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Hub] marshal control: %v", err)
		return
	}

	h.mu.Lock()
	var broken []*Client
	for id, c := range h.clients {
		select {
		case c.control <- data:
		default:
			delete(h.clients, id)
			broken = append(broken, c)
		}
	}
	h.mu.Unlock()

	for _, c := range broken {
		log.Printf("[Hub] %s cannot keep up with control traffic, disconnecting", c.ParticipantID)
		c.close("control backlog")
		metrics.ConnectedParticipants.Dec()
	}
}

// SendControl delivers a control message to one participant. Reports
// whether the participant was attached and had control capacity.
func (h *Hub) SendControl(participantID string, msg protocol.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Hub] marshal control: %v", err)
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[participantID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case c.control <- data:
		return true
	default:
		return false
	}
}

// CloseAll disconnects every client, for room teardown.
func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close(reason)
		metrics.ConnectedParticipants.Dec()
	}
}

// Attached reports whether a participant currently has a live client.
func (h *Hub) Attached(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[participantID]
	return ok
}
