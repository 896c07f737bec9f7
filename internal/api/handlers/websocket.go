package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/portscout/internal/api/middleware"
	"github.com/anstrom/portscout/internal/logging"
	"github.com/anstrom/portscout/internal/scanning"
)

const (
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	bufferSize      = 256                                                // Size of the broadcast and per-client buffers
)

// Message types sent to progress subscribers.
const (
	MessageScanStarted   = "scan_started"
	MessageScanProgress  = "scan_progress"
	MessageScanCompleted = "scan_completed"
	MessageScanFailed    = "scan_failed"
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ProgressUpdate is the payload of every scan message.
type ProgressUpdate struct {
	ScanRef string `json:"scan_ref"`
	Target  string `json:"target"`
	Done    int    `json:"done"`
	Total   int    `json:"total"`
	Open    int    `json:"open,omitempty"`
	Error   string `json:"error,omitempty"`
}

// client is one subscriber. Only its writePump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// ProgressHub fans scan progress out to WebSocket subscribers.
type ProgressHub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	closeOnce  sync.Once
	mutex      sync.RWMutex
}

// NewProgressHub creates a hub and starts its run loop.
func NewProgressHub(logger *logging.Logger) *ProgressHub {
	if logger == nil {
		logger = logging.Default()
	}
	hub := &ProgressHub{
		logger: logger.WithComponent("progress-hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, bufferSize),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
	}

	go hub.run()

	return hub
}

// ServeWS upgrades the request and subscribes the connection to progress
// messages until the peer goes away.
func (h *ProgressHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}
	h.logger.Debug("New progress WebSocket connection", "request_id", requestID, "remote_addr", r.RemoteAddr)

	c := &client{conn: conn, send: make(chan []byte, bufferSize)}
	select {
	case h.register <- c:
	case <-h.shutdown:
		_ = conn.Close()
		return
	}

	go h.writePump(c, requestID)
	h.readPump(c, requestID)
}

// run manages client registration and broadcasts.
func (h *ProgressHub) run() {
	for {
		select {
		case <-h.shutdown:
			h.mutex.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mutex.Unlock()
			return

		case c := <-h.register:
			h.mutex.Lock()
			h.clients[c] = true
			h.mutex.Unlock()
			h.logger.Debug("Client registered", "total_clients", h.ClientCount())

		case c := <-h.unregister:
			h.mutex.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			h.mutex.Unlock()
			h.logger.Debug("Client unregistered", "total_clients", h.ClientCount())

		case message := <-h.broadcast:
			h.mutex.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow consumer.
					h.logger.Warn("Client send buffer full, disconnecting")
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// readPump drains the peer so pongs and close frames are processed.
func (h *ProgressHub) readPump(c *client, requestID string) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.shutdown:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", requestID, "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

// writePump is the only writer for the connection: queued messages and pings.
func (h *ProgressHub) writePump(c *client, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

// Broadcast queues a message for every subscriber. It never blocks.
func (h *ProgressHub) Broadcast(messageType string, update ProgressUpdate) error {
	data, err := json.Marshal(WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Data:      update,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", messageType, err)
	}

	select {
	case <-h.shutdown:
		return fmt.Errorf("progress hub closed")
	default:
	}

	select {
	case h.broadcast <- data:
		return nil
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", messageType)
		return fmt.Errorf("broadcast channel full")
	}
}

// ProgressFunc returns a scanning.ProgressFunc that broadcasts progress for
// one scan.
func (h *ProgressHub) ProgressFunc(scanRef, target string) scanning.ProgressFunc {
	return func(done, total int) {
		_ = h.Broadcast(MessageScanProgress, ProgressUpdate{
			ScanRef: scanRef,
			Target:  target,
			Done:    done,
			Total:   total,
		})
	}
}

// ClientCount returns the number of connected subscribers.
func (h *ProgressHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects all subscribers and stops the run loop.
func (h *ProgressHub) Close() {
	h.closeOnce.Do(func() {
		close(h.shutdown)
		h.logger.Debug("Progress hub closed")
	})
}
