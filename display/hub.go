// Package display fans composited frames out to websocket viewers. The hub
// must never block the pipeline worker: a viewer that cannot keep up is
// dropped, and viewers copy frames if they retain them past the write.
package display

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Hub broadcasts encoded frames to connected websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the connection and registers the viewer. The read loop
// exists only to notice disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("viewers", count).Info("viewer connected")

	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one encoded frame to every viewer. Slow or broken viewers
// are disconnected rather than allowed to stall the caller.
func (h *Hub) Broadcast(frame []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			h.log.WithError(err).Debug("dropping viewer")
			h.remove(conn)
		}
	}
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	count := len(h.clients)
	h.mu.Unlock()
	h.log.WithField("viewers", count).Info("viewer disconnected")
}
