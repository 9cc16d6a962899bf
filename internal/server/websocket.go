package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	user   identity
	chat   *rate.Limiter
	gameMu sync.Mutex
	gameID string
}

func newClient(conn *websocket.Conn, user identity, chat *rate.Limiter) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		user: user,
		chat: chat,
	}
}

func (c *client) game() string {
	c.gameMu.Lock()
	defer c.gameMu.Unlock()
	return c.gameID
}

// Hub groups connections per game. Connections without a game belong to
// the lobby group.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	groups  map[string]map[*client]struct{}
	lobby   map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		groups:  make(map[string]map[*client]struct{}),
		lobby:   make(map[*client]struct{}),
	}
}

func (h *Hub) add(c *client, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
	h.attach(c, gameID)
}

// register tracks a connection without binding it to any group yet.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// bind moves a connection to another game group, or to the lobby.
func (h *Hub) bind(c *client, gameID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.detach(c)
	h.attach(c, gameID)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.detach(c)
	delete(h.clients, c.id)
	close(c.send)
}

func (h *Hub) attach(c *client, gameID string) {
	c.gameMu.Lock()
	c.gameID = gameID
	c.gameMu.Unlock()
	if gameID == "" {
		h.lobby[c] = struct{}{}
		return
	}
	group := h.groups[gameID]
	if group == nil {
		group = make(map[*client]struct{})
		h.groups[gameID] = group
	}
	group[c] = struct{}{}
}

func (h *Hub) detach(c *client) {
	gameID := c.game()
	if gameID == "" {
		delete(h.lobby, c)
		return
	}
	group := h.groups[gameID]
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, gameID)
	}
}

// Broadcast delivers an event to every connection bound to gameID.
func (h *Hub) Broadcast(gameID, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[gameID] {
		h.deliver(c, data, event)
	}
}

// Unicast delivers an event to one connection.
func (h *Hub) Unicast(connID, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		h.deliver(c, data, event)
	}
}

// BroadcastLobby delivers an event to every lobby-scoped connection.
func (h *Hub) BroadcastLobby(event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.lobby {
		h.deliver(c, data, event)
	}
}

func (h *Hub) GroupSize(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[gameID])
}

func (h *Hub) deliver(c *client, data []byte, event string) {
	select {
	case c.send <- data:
	default:
		log.Warn().Str("conn_id", c.id).Str("game_id", c.game()).Str("event", event).Msg("send buffer full, dropping event")
	}
}

func encode(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(outgoing{Type: event, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal event failed")
		return nil, false
	}
	return data, true
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("conn_id", c.id).Str("game_id", c.game()).Msg("ws read failed")
			}
			log.Debug().Str("conn_id", c.id).Str("game_id", c.game()).Msg("ws disconnected")
			return
		}
		var msg envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			s.hub.Unicast(c.id, eventError, errorPayload{Message: "invalid message"})
			continue
		}
		s.dispatch(c, msg)
	}
}
