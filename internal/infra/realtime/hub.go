// Package realtime pushes document generation progress to browsers over
// websockets. Clients are grouped in rooms, one room per project.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Message is the envelope written to websocket clients.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type roomMessage struct {
	room string
	data []byte
}

// Hub keeps the connected clients and fans messages out per room.
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	register      chan *Client
	unregister    chan *Client
	roomBroadcast chan roomMessage

	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:       make(map[*Client]bool),
		rooms:         make(map[string]map[*Client]bool),
		register:      make(chan *Client, 256),
		unregister:    make(chan *Client, 256),
		roomBroadcast: make(chan roomMessage, 1024),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// ProjectRoom names the room that receives a project's progress.
func ProjectRoom(projectID string) string {
	return "project:" + projectID
}

// Run processes registrations and broadcasts until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.cleanup()
			return

		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()

			h.roomsMu.Lock()
			if h.rooms[c.Room] == nil {
				h.rooms[c.Room] = make(map[*Client]bool)
			}
			h.rooms[c.Room][c] = true
			h.roomsMu.Unlock()

			h.logger.Debug("realtime: client registered",
				zap.String("client_id", c.ID),
				zap.String("room", c.Room),
			)

		case c := <-h.unregister:
			h.remove(c)

		case m := <-h.roomBroadcast:
			h.broadcastToRoom(m.room, m.data)
		}
	}
}

func (h *Hub) remove(c *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.clientsMu.Unlock()

	h.roomsMu.Lock()
	if members, ok := h.rooms[c.Room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, c.Room)
		}
	}
	h.roomsMu.Unlock()
}

func (h *Hub) broadcastToRoom(room string, data []byte) {
	h.roomsMu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.roomsMu.RUnlock()

	for _, c := range members {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("realtime: send buffer full, dropping message",
				zap.String("client_id", c.ID),
				zap.String("room", room),
			)
		}
	}
}

// BroadcastToRoom queues msg for every client in room. It never blocks;
// messages are dropped when the hub is saturated or stopped.
func (h *Hub) BroadcastToRoom(room string, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("realtime: marshal message", zap.Error(err))
		return
	}
	select {
	case h.roomBroadcast <- roomMessage{room: room, data: data}:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("realtime: broadcast queue full, message dropped", zap.String("room", room))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) cleanup() {
	h.clientsMu.Lock()
	for c := range h.clients {
		if c.conn != nil {
			c.conn.Close()
		}
	}
	h.clients = make(map[*Client]bool)
	h.clientsMu.Unlock()

	h.roomsMu.Lock()
	h.rooms = make(map[string]map[*Client]bool)
	h.roomsMu.Unlock()
}

// Shutdown disconnects every client and stops Run.
func (h *Hub) Shutdown() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}
