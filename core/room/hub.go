package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"dndj/core/player"
	"dndj/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
	relayBuffer    = 256
)

// Relay receives every encoded outbound message, after the observers.
type Relay interface {
	Relay(payload []byte)
}

// Client is one observer connection.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

type registration struct {
	client   *Client
	snapshot func() []player.Event
}

// Hub keeps the observer registry of the single session and fans scheduler
// events out to it.
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan registration
	unregister chan *Client

	relay   Relay
	relayCh chan []byte

	done chan struct{}
}

// NewHub creates a hub; relay may be nil.
func NewHub(relay Relay) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan registration),
		unregister: make(chan *Client),
		relay:      relay,
		relayCh:    make(chan []byte, relayBuffer),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.relay != nil {
		go h.relayLoop(ctx)
	}

	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			h.clients[reg.client] = true
			if reg.snapshot != nil {
				// Publish needs h.mu, so no event can slip between this
				// snapshot and the client joining the broadcast set.
				h.queue(reg.client, reg.snapshot())
			}
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("observer connected", logger.String("observer", reg.client.ID), logger.Int("observers", count))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("observer disconnected", logger.String("observer", client.ID), logger.Int("observers", count))

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.removeClient(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// removeClient must be called with h.mu held.
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

func (h *Hub) relayLoop(ctx context.Context) {
	for {
		select {
		case payload := <-h.relayCh:
			h.relay.Relay(payload)
		case <-ctx.Done():
			return
		}
	}
}

// NewClient wraps an upgraded connection with a fresh observer id.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Hub:  h,
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
	}
}

// Register adds a client to the registry. snapshot, when not nil, is called
// as the client joins and its events are queued before any later broadcast.
func (h *Hub) Register(client *Client, snapshot func() []player.Event) {
	select {
	case h.register <- registration{client: client, snapshot: snapshot}:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client from the registry.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements player.Publisher. The event is encoded once and queued
// on every client without blocking; a client whose queue is full is dropped.
func (h *Hub) Publish(e player.Event) {
	data, err := Encode(e)
	if err != nil {
		logger.Error("failed to encode event", logger.ErrorField(err))
		return
	}
	h.Broadcast(data)
}

// Broadcast queues an encoded message on every client.
func (h *Hub) Broadcast(data []byte) {
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logger.Warn("dropping slow observer", logger.String("observer", client.ID))
		go h.Unregister(client)
	}

	if h.relay != nil {
		select {
		case h.relayCh <- data:
		default:
			logger.Warn("relay queue full, message dropped")
		}
	}
}

// queue encodes events onto one client. Callers hold h.mu.
func (h *Hub) queue(client *Client, events []player.Event) {
	for _, e := range events {
		data, err := Encode(e)
		if err != nil {
			logger.Error("failed to encode event", logger.ErrorField(err))
			continue
		}
		select {
		case client.Send <- data:
		default:
			return
		}
	}
}

// ReadPump reads observer commands until the connection fails, handing each
// text frame to handler.
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, raw []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.String("observer", c.ID), logger.ErrorField(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handler(ctx, c, message)
	}
}

// WritePump writes queued messages, one frame each, and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// drain what queued up meanwhile under the same deadline
			n := len(c.Send)
			for i := 0; i < n; i++ {
				queued, ok := <-c.Send
				if !ok {
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// MarshalState is the /api/state payload: the snapshot plus observer count.
func (h *Hub) MarshalState(st player.State) ([]byte, error) {
	return json.Marshal(struct {
		player.State
		Observers int `json:"observers"`
	}{st, h.Count()})
}
