package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/csi.report/internal/monitoring"
)

const writeTimeout = 5 * time.Second

// Message is the envelope of everything sent to websocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub fans JSON messages out to every connected websocket client.
type Hub struct {
	clients   map[*websocket.Conn]*sync.Mutex // per-connection write lock
	clientsMu sync.RWMutex
	upgrader  websocket.Upgrader
	metrics   *monitoring.Metrics
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *monitoring.Metrics) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and keeps the client registered until
// it disconnects. Anything the client sends is discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("websocket upgrade failed: %v", err)
		return
	}
	h.add(conn)
	defer h.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.clientsMu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.clientsMu.Unlock()
	h.metrics.WebsocketClients(1)
	logf("websocket client connected from %s", conn.RemoteAddr())
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	if ok {
		conn.Close()
		h.metrics.WebsocketClients(-1)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a typed message to every client. Clients whose write
// fails are dropped.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		logf("failed to marshal %s message: %v", msgType, err)
		return
	}

	// copy the client list so slow writes do not hold clientsMu
	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	locks := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mu := range h.clients {
		conns = append(conns, conn)
		locks = append(locks, mu)
	}
	h.clientsMu.RUnlock()

	var failed []*websocket.Conn
	for i, conn := range conns {
		locks[i].Lock()
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteMessage(websocket.TextMessage, payload)
		locks[i].Unlock()
		if err != nil {
			logf("websocket write to %s failed: %v", conn.RemoteAddr(), err)
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		h.remove(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clientsMu.RUnlock()
	for _, conn := range conns {
		h.remove(conn)
	}
}
