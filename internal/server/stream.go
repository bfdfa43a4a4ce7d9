package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

const streamLogPrefix = "server:stream"

const (
	streamWriteWait  = 10 * time.Second
	streamSendBuffer = 64
)

// StreamHub fans captured log records out to websocket clients. Slow
// clients are disconnected rather than allowed to stall the hub.
type StreamHub struct {
	mu       sync.Mutex
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	metrics  *Metrics
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewStreamHub creates an empty hub. metrics may be nil.
func NewStreamHub(metrics *Metrics) *StreamHub {
	return &StreamHub{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The admin API is token-authenticated, not origin-bound.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		metrics: metrics,
	}
}

// Broadcast sends one record to every connected client.
func (h *StreamHub) Broadcast(rec *logbuffer.Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - encode record: %v", streamLogPrefix, err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client is not draining its queue. Drop it.
			delete(h.clients, c)
			go h.drop(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams records until the client
// disconnects.
func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - upgrade failed: %v", streamLogPrefix, err))
		return
	}
	c := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.StreamClients.Inc()
	}
	slog.Debug(fmt.Sprintf("%s - client connected from %s", streamLogPrefix, r.RemoteAddr))

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects every client.
func (h *StreamHub) Close() {
	h.mu.Lock()
	clients := make([]*streamClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

func (h *StreamHub) writeLoop(c *streamClient) {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
			return
		}
	}
}

// readLoop discards inbound frames; its purpose is noticing the close.
func (h *StreamHub) readLoop(c *streamClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if present {
		h.drop(c)
	} else {
		c.close()
	}
}

func (h *StreamHub) drop(c *streamClient) {
	c.close()
	if h.metrics != nil {
		h.metrics.StreamClients.Dec()
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}
