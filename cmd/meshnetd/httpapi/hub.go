package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StatusHub streams periodic JSON status snapshots to connected websocket
// clients, giving operators a live view of a long-running inference
// without polling the REST surface.
type StatusHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	snapshot func() any
}

// NewStatusHub constructs a hub whose Snapshot handler supplies the
// payload broadcast to every connected client on each tick.
func NewStatusHub(snapshot func() any) *StatusHub {
	return &StatusHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// status stream is read-only telemetry, not a CSRF-sensitive
			// browser form submission; same-origin checks are left to a
			// fronting reverse proxy in production deployments.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:  make(map[*websocket.Conn]struct{}),
		snapshot: snapshot,
	}
}

// ServeHTTP upgrades the connection and registers it for broadcast.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("httpapi: websocket upgrade failed")
		return
	}
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.readUntilClose(conn)
}

// readUntilClose drains client frames (none expected) until the
// connection closes, at which point it is unregistered.
func (h *StatusHub) readUntilClose(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run broadcasts a snapshot every interval until ctx-like stop is closed.
func (h *StatusHub) Run(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.broadcast(h.snapshot())
		}
	}
}

func (h *StatusHub) broadcast(payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(payload); err != nil {
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}
