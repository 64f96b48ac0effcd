package realtime

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Upgrader turns authorized HTTP requests into hub clients.
type Upgrader struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewUpgrader creates an upgrader that accepts the given browser origins.
// An empty list or "*" accepts any origin.
func NewUpgrader(hub *Hub, allowedOrigins []string) *Upgrader {
	return &Upgrader{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Serve upgrades the request and subscribes the connection to room.
// Authentication and authorization must already have happened.
func (u *Upgrader) Serve(w http.ResponseWriter, r *http.Request, userID, room string) error {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newClient(uuid.New().String(), userID, room, conn, u.hub)

	select {
	case u.hub.register <- c:
	case <-u.hub.ctx.Done():
		conn.Close()
		return nil
	}

	go c.writePump()
	go c.readPump()

	u.hub.logger.Info("realtime: connection established",
		zap.String("client_id", c.ID),
		zap.String("user_id", userID),
		zap.String("room", room),
	)
	return nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
