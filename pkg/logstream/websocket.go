package logstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coldharbour/proxy-console/pkg/dispatch"
	"github.com/coldharbour/proxy-console/pkg/logbuffer"
)

const wsLogPrefix = "logstream:websocket"

// StreamPath is the management API's websocket endpoint for log records.
const StreamPath = "/api/logs/stream"

// WebSocketSubscriber subscribes to the management API's log stream endpoint.
// Used by remote deployments where the NATS server is not reachable from the
// client.
type WebSocketSubscriber struct {
	url        string
	credential dispatch.CredentialSource
	dialer     *websocket.Dialer
}

// NewWebSocketSubscriber creates a subscriber against the management API at
// baseURL (http or https; the scheme is rewritten to ws/wss).
func NewWebSocketSubscriber(baseURL string, credential dispatch.CredentialSource) *WebSocketSubscriber {
	url := strings.TrimRight(baseURL, "/") + StreamPath
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return &WebSocketSubscriber{
		url:        url,
		credential: credential,
		dialer:     websocket.DefaultDialer,
	}
}

// Subscribe dials the stream endpoint and reads records until the handle is
// released or the connection drops.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context, deliver func(logbuffer.Record)) (Handle, error) {
	header := http.Header{}
	if s.credential != nil {
		if token, ok := s.credential.Token(); ok {
			header.Set("Authorization", "Bearer "+token)
			header.Set("X-Api-Key", token)
		}
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return nil, fmt.Errorf("%s - dial %s: %w", wsLogPrefix, s.url, err)
	}

	handle := &wsHandle{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(handle.done)
		for {
			var record logbuffer.Record
			if err := conn.ReadJSON(&record); err != nil {
				if !handle.closing() {
					slog.Warn(fmt.Sprintf("%s - stream closed: %v", wsLogPrefix, err))
				}
				return
			}
			deliver(record)
		}
	}()
	return handle, nil
}

type wsHandle struct {
	conn   *websocket.Conn
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func (h *wsHandle) closing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Unsubscribe closes the connection and waits for the read loop to exit.
func (h *wsHandle) Unsubscribe() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.conn.Close()
	<-h.done
	return err
}
