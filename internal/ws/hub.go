package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/coinpeak/exchange-api/internal/auth"
	"github.com/coinpeak/exchange-api/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is consumed by a browser client on another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	mu       sync.RWMutex
	channels map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

// subscribeRequest is the only message clients send: subscribe to or
// unsubscribe from a channel.
type subscribeRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Hub fans committed exchange events out to connected websocket clients.
// Public order-book channels are open to everyone; private user channels
// require the connection to be authenticated as that user. Delivery is
// best-effort: a slow client's messages are dropped, never the state change.
type Hub struct {
	auth    *auth.Service
	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub and registers it with the dispatcher.
func NewHub(authService *auth.Service, dispatcher *events.Dispatcher) *Hub {
	h := &Hub{
		auth:    authService,
		clients: make(map[*client]bool),
	}
	dispatcher.Register(h.handleEvent)
	return h
}

func (h *Hub) handleEvent(event events.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("failed to encode event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(event.Channel) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			log.Warn().Str("channel", event.Channel).Msg("dropping event for slow websocket client")
		}
	}
}

// ServeWS upgrades the request to a websocket connection. An optional token
// query parameter authenticates the connection for private channels.
func (h *Hub) ServeWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := ""
		if token := c.Query("token"); token != "" {
			claims, err := h.auth.ValidateToken(token)
			if err != nil {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}
			userID = claims.UserID
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		cl := &client{
			hub:      h,
			conn:     conn,
			send:     make(chan []byte, sendBuffer),
			userID:   userID,
			channels: make(map[string]bool),
		}

		h.mu.Lock()
		h.clients[cl] = true
		h.mu.Unlock()

		go cl.writePump()
		go cl.readPump()
	}
}

func (h *Hub) remove(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
	h.mu.Unlock()
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if !c.allowed(req.Channel) {
			continue
		}

		c.mu.Lock()
		switch req.Action {
		case "subscribe":
			c.channels[req.Channel] = true
		case "unsubscribe":
			delete(c.channels, req.Channel)
		}
		c.mu.Unlock()
	}
}

// allowed restricts private user channels to the authenticated owner.
func (c *client) allowed(channel string) bool {
	if !strings.HasPrefix(channel, "user.") {
		return true
	}
	return c.userID != "" && channel == events.UserChannel(c.userID)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
