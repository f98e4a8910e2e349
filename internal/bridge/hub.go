package bridge

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	sendBuffer   = 64
	writeTimeout = 2 * time.Second
)

// client is one websocket subscriber. Its writer goroutine owns all writes to ws.
type client struct {
	ws   *websocket.Conn
	send chan []byte
}

func (c *client) writeLoop() {
	defer c.ws.Close()
	for b := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			log.WithError(err).Debug("Websocket write failed")
			return
		}
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Hub fans queue events out to connected websocket clients.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
}

// NewHub returns a hub that accepts upgrades for which checkOrigin reports true.
func NewHub(checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove unregisters c and stops its writer. Safe to call more than once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastJSON queues v for every client. Clients that fall behind are dropped.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Warn("Failed to encode bridge event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			log.Debug("Dropping slow websocket client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Handler upgrades the request and keeps the connection registered until the client leaves.
func (h *Hub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.WithError(err).Debug("Websocket upgrade failed")
			return
		}
		cl := &client{ws: ws, send: make(chan []byte, sendBuffer)}
		cl.send <- []byte(`{"type":"welcome"}`)
		h.add(cl)
		go cl.writeLoop()
		log.Debug("Bridge client connected")

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}
		h.remove(cl)
		log.Debug("Bridge client disconnected")
	}
}
