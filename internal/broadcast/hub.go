// Package broadcast fans live decoded packets out to websocket subscribers.
package broadcast

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meshwatch/meshwatch/internal/logging"
	"github.com/meshwatch/meshwatch/internal/metrics"
	"github.com/meshwatch/meshwatch/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	clientBuffer   = 64
	publishBuffer  = 256
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from another origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub owns the set of connected websocket clients. The clients map is only
// touched from Run, so no lock is needed; Publish never blocks the ingest
// pipeline.
type Hub struct {
	logger     *logging.Logger
	events     chan []byte
	register   chan *client
	unregister chan *client
	clients    map[*client]struct{}
	done       chan struct{}
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:     logger,
		events:     make(chan []byte, publishBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
	}
}

// Publish queues a live event for fan-out. The event is dropped when the
// queue is full; a slow dashboard must never stall ingest.
func (h *Hub) Publish(event *models.LiveEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal live event", "error", err)
		return
	}
	select {
	case h.events <- data:
	default:
		metrics.BroadcastDropped.Inc()
	}
}

// Run drives registration and fan-out until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.WebsocketClients.Set(float64(len(h.clients)))
			h.logger.Debug("websocket client connected", "client_id", c.id, "clients", len(h.clients))
		case c := <-h.unregister:
			h.drop(c)
		case data := <-h.events:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					// Client can't keep up, evict it.
					h.drop(c)
				}
			}
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// Close stops the Run loop and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WebsocketClients.Set(float64(len(h.clients)))
	h.logger.Debug("websocket client disconnected", "client_id", c.id, "clients", len(h.clients))
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

// writePump serializes all writes to the connection. gorilla/websocket does
// not allow concurrent writers.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the stream is one-way. It exists to
// answer pings and to notice when the peer goes away.
func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
