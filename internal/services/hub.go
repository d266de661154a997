package services

import (
	"context"
	"sync"
	"time"

	"tutorias-backend-go/internal/models"

	"github.com/gorilla/websocket"
)

// NotificationHub pushes freshly stored notifications to the recipient's open
// websocket connections. Run is the only goroutine that writes to them.
type NotificationHub struct {
	mu      sync.Mutex
	clients map[int64]map[*websocket.Conn]bool
	ch      chan models.Notification
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients: map[int64]map[*websocket.Conn]bool{},
		ch:      make(chan models.Notification, 64),
	}
}

func (h *NotificationHub) Run(ctx context.Context) {
	for {
		select {
		case n := <-h.ch:
			for _, conn := range h.connections(n.RecipientID) {
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteJSON(n); err != nil {
					h.Remove(n.RecipientID, conn)
					_ = conn.Close()
				}
			}
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// Broadcast queues n for delivery and drops it when the queue is full; the
// notification itself is already stored.
func (h *NotificationHub) Broadcast(n models.Notification) {
	select {
	case h.ch <- n:
	default:
	}
}

func (h *NotificationHub) Add(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*websocket.Conn]bool{}
	}
	h.clients[userID][conn] = true
}

func (h *NotificationHub) Remove(userID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[userID], conn)
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// Connected reports how many live connections userID has.
func (h *NotificationHub) Connected(userID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

func (h *NotificationHub) connections(userID int64) []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*websocket.Conn, 0, len(h.clients[userID]))
	for conn := range h.clients[userID] {
		conns = append(conns, conn)
	}
	return conns
}

func (h *NotificationHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for conn := range conns {
			_ = conn.Close()
		}
		delete(h.clients, userID)
	}
}
