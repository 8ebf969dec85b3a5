package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barchshimelis/supportchat/pkg/logger"
	"github.com/barchshimelis/supportchat/pkg/models"
	"github.com/barchshimelis/supportchat/pkg/wire"
)

// Hub tracks the live sockets per thread and fans events out to them.
// Writes take a per-connection lock so concurrent broadcasts and direct
// replies never interleave frames.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*websocket.Conn]*connInfo
}

type connInfo struct {
	role    models.Role
	writeMu sync.Mutex
}

func NewHub() *Hub {
	return &Hub{topics: map[string]map[*websocket.Conn]*connInfo{}}
}

// Register adds a connection to a thread's fan-out set.
func (h *Hub) Register(threadID string, conn *websocket.Conn, role models.Role) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[threadID]
	if !ok {
		t = map[*websocket.Conn]*connInfo{}
		h.topics[threadID] = t
	}
	t[conn] = &connInfo{role: role}
}

// Unregister drops a connection. Safe to call for unknown connections.
func (h *Hub) Unregister(threadID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[threadID]; ok {
		delete(t, conn)
		if len(t) == 0 {
			delete(h.topics, threadID)
		}
	}
}

// Broadcast delivers an event to every socket on a thread.
func (h *Hub) Broadcast(threadID string, ev wire.Event) {
	data, err := wire.EncodeEvent(ev)
	if err != nil {
		logger.Error("broadcast_encode_failed", "thread", threadID, "error", err)
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.topics[threadID]))
	infos := make([]*connInfo, 0, len(h.topics[threadID]))
	for c, info := range h.topics[threadID] {
		conns = append(conns, c)
		infos = append(infos, info)
	}
	h.mu.Unlock()
	for i, c := range conns {
		h.writeTo(c, infos[i], data)
	}
}

// Send delivers an event to one connection (bootstrap pushes, error replies).
func (h *Hub) Send(threadID string, conn *websocket.Conn, ev wire.Event) {
	data, err := wire.EncodeEvent(ev)
	if err != nil {
		logger.Error("send_encode_failed", "thread", threadID, "error", err)
		return
	}
	h.mu.Lock()
	info := h.topics[threadID][conn]
	h.mu.Unlock()
	if info == nil {
		return
	}
	h.writeTo(conn, info, data)
}

func (h *Hub) writeTo(c *websocket.Conn, info *connInfo, data []byte) {
	info.writeMu.Lock()
	defer info.writeMu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debug("hub_write_failed", "error", err)
	}
}
