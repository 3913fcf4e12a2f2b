// Package ws pushes change notifications to connected devices so they can
// pull promptly instead of polling.
package ws

import (
	"encoding/json"
	"net/http"
	stdsync "sync"
	"time"

	syncdomain "clipvault-go/internal/domain/sync"
	"clipvault-go/internal/transport/httpserver/middleware"
	"clipvault-go/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

type envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type entitiesChangedData struct {
	OriginDeviceID string                  `json:"origin_device_id"`
	Changes        []syncdomain.ChangeNote `json:"changes"`
}

type client struct {
	id       string
	userID   string
	deviceID string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
}

// Hub tracks connected devices grouped by user and fans change
// notifications out to every device of the user except the one that
// produced them. It satisfies the sync notifier contract.
type Hub struct {
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      stdsync.RWMutex
	byUser  map[string]map[string]*client
	closed  bool
	closeWG stdsync.WaitGroup
}

func NewHub(allowedOrigins []string, log logger.Logger) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients do not send an Origin header.
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		log:    log,
		byUser: make(map[string]map[string]*client),
	}
}

// EntitiesChanged notifies every connected device of the user except the
// origin device. Delivery is best effort: a slow client is dropped, it
// will catch up through a normal pull.
func (h *Hub) EntitiesChanged(userID, originDeviceID string, notes []syncdomain.ChangeNote) {
	if len(notes) == 0 {
		return
	}

	payload, err := json.Marshal(envelope{
		Type: "entities.changed",
		Data: entitiesChangedData{
			OriginDeviceID: originDeviceID,
			Changes:        notes,
		},
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		h.log.InternalError("ws: marshal notification", err, "user_id", userID)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byUser[userID] {
		if c.deviceID != "" && c.deviceID == originDeviceID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.log.Warn("ws: send buffer full, dropping client", "client_id", c.id, "user_id", userID)
			go h.remove(c)
		}
	}
}

// Handler upgrades the request to a websocket connection. The caller must
// have passed auth middleware; device_id is an optional query parameter
// that suppresses echoing a device's own changes back to it.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.BusinessError("ws: upgrade failed", err, "user_id", user.ID)
		return
	}

	c := &client{
		id:       uuid.NewString(),
		userID:   user.ID,
		deviceID: r.URL.Query().Get("device_id"),
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		hub:      h,
	}

	if !h.add(c) {
		_ = conn.Close()
		return
	}

	h.log.Info("ws: client connected", "client_id", c.id, "user_id", c.userID, "device_id", c.deviceID)

	go c.writePump()
	go c.readPump()
}

// Close disconnects all clients and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0)
	for _, room := range h.byUser {
		for _, c := range room {
			clients = append(clients, c)
		}
	}
	h.byUser = make(map[string]map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	h.closeWG.Wait()
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	room := h.byUser[c.userID]
	if room == nil {
		room = make(map[string]*client)
		h.byUser[c.userID] = room
	}
	room[c.id] = c
	h.closeWG.Add(1)
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.byUser[c.userID]
	if room == nil {
		return
	}
	if _, ok := room[c.id]; !ok {
		return
	}
	delete(room, c.id)
	if len(room) == 0 {
		delete(h.byUser, c.userID)
	}
	close(c.send)
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Inbound messages are ignored; the socket is server-to-client.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws: read error", "client_id", c.id, "error", err.Error())
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.hub.closeWG.Done()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
