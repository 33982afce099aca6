package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nifty-insight-server/internal/events"
	"nifty-insight-server/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced at the HTTP layer
	},
}

// wsMessage is the envelope every frame on the feed uses.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// messageType maps a bus event to its wire tag. Events that return ""
// stay off the general feed.
func messageType(t events.EventType) string {
	switch t {
	case events.EventPriceUpdate:
		return "price"
	case events.EventSignalGenerated:
		return "signal"
	case events.EventLogEntry:
		return "log"
	case events.EventGreeksUpdate:
		return "greeks"
	case events.EventHeartbeat:
		return "heartbeat"
	default:
		// Settings snapshots are pushed per user, never broadcast.
		return ""
	}
}

// ============================================================================
// CLIENT
// ============================================================================

// WSClient is a single WebSocket connection.
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *WSHub
	userID    string
	closeOnce sync.Once
	closeChan chan struct{}
}

func (c *WSClient) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
	})
}

// writePump drains the send channel to the socket and keeps the
// connection alive with pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// readPump discards inbound frames; the feed is one-way. It exists to
// process pongs and to notice when the peer goes away.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ============================================================================
// HUB
// ============================================================================

// WSHub tracks connected clients and fans events out to them.
type WSHub struct {
	clients     map[*WSClient]bool
	userClients map[string][]*WSClient
	broadcast   chan []byte
	register    chan *WSClient
	unregister  chan *WSClient
	mu          sync.RWMutex
	logger      *logging.Logger
}

// NewWSHub creates an empty hub. Run must be started for it to do anything.
func NewWSHub(logger *logging.Logger) *WSHub {
	return &WSHub{
		clients:     make(map[*WSClient]bool),
		userClients: make(map[string][]*WSClient),
		broadcast:   make(chan []byte, 4096),
		register:    make(chan *WSClient),
		unregister:  make(chan *WSClient),
		logger:      logger.WithComponent("websocket"),
	}
}

// Run is the hub's event loop.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.userClients[client.userID] = append(h.userClients[client.userID], client)
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.removeUserClient(client)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the feed.
					go func(c *WSClient) { h.unregister <- c }(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// removeUserClient must be called with h.mu held.
func (h *WSHub) removeUserClient(client *WSClient) {
	clients := h.userClients[client.userID]
	for i, c := range clients {
		if c == client {
			h.userClients[client.userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(h.userClients[client.userID]) == 0 {
		delete(h.userClients, client.userID)
	}
}

// BroadcastEvent serializes a bus event into the wire envelope and queues
// it for every connected client.
func (h *WSHub) BroadcastEvent(event events.Event) {
	tag := messageType(event.Type)
	if tag == "" {
		return
	}

	payload, err := json.Marshal(wsMessage{Type: tag, Data: event.Data})
	if err != nil {
		h.logger.Error("Failed to marshal %s event: %v", event.Type, err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Broadcast queue full, dropping %s event", event.Type)
	}
}

// SendToUser queues a message for every connection belonging to userID.
func (h *WSHub) SendToUser(userID string, message []byte) {
	h.mu.RLock()
	clients := append([]*WSClient(nil), h.userClients[userID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- message:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ============================================================================
// WIRING
// ============================================================================

var wsHub *WSHub

// InitWebSocket starts the global hub and bridges the event bus onto it.
// Settings snapshots bypass the bus and go straight to the owning user's
// sockets via the broadcast hook.
func InitWebSocket(bus *events.EventBus, logger *logging.Logger) {
	wsHub = NewWSHub(logger)
	go wsHub.Run()

	bus.SubscribeAll(func(event events.Event) {
		wsHub.BroadcastEvent(event)
	})

	events.SetBroadcastSettingsChanged(func(userID string, data interface{}) {
		payload, err := json.Marshal(wsMessage{Type: "settings", Data: data})
		if err != nil {
			return
		}
		wsHub.SendToUser(userID, payload)
	})
}

// handleWebSocket upgrades the connection and attaches it to the hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	if wsHub == nil {
		errorResponse(c, http.StatusServiceUnavailable, "WebSocket feed not initialized")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed: %v", err)
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       wsHub,
		userID:    s.getUserID(c),
		closeChan: make(chan struct{}),
	}

	wsHub.register <- client

	go client.writePump()
	go client.readPump()

	welcome, _ := json.Marshal(wsMessage{
		Type: "connected",
		Data: map[string]interface{}{
			"message":   "Connected to live feed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
	client.send <- welcome
}
