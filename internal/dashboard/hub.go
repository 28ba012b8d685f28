package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/luizcarelo/nps-saas/internal/auth"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans dashboard updates out to connected viewers, one room per
// tenant. Viewers of one tenant never see another tenant's updates.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*websocket.Conn]struct{}
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{rooms: map[string]map[*websocket.Conn]struct{}{}, log: log}
}

func (h *Hub) join(tenantID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[tenantID]
	if !ok {
		room = map[*websocket.Conn]struct{}{}
		h.rooms[tenantID] = room
	}
	room[conn] = struct{}{}
}

func (h *Hub) leave(tenantID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[tenantID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, tenantID)
		}
	}
}

// Broadcast writes an update to every viewer in the tenant's room.
// Write failures drop the single connection, not the room.
func (h *Hub) Broadcast(tenantID string, update Update) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[tenantID]))
	for c := range h.rooms[tenantID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(update); err != nil {
			h.log.Debug("dashboard viewer write failed, dropping", "tenant_id", tenantID, "err", err)
			h.leave(tenantID, c)
			_ = c.Close()
		}
	}
}

// Viewers reports the number of live connections for a tenant.
func (h *Hub) Viewers(tenantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[tenantID])
}

// HandleWS upgrades an authenticated request and parks it in the
// tenant's room until the client goes away.
func (h *Hub) HandleWS(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant not resolved"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("dashboard websocket upgrade failed", "tenant_id", tenantID, "err", err)
		return
	}
	defer conn.Close()

	h.join(tenantID, conn)
	defer h.leave(tenantID, conn)

	// The dashboard protocol is push-only; the read loop exists to
	// notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("dashboard websocket read", "tenant_id", tenantID, "err", err)
			}
			return
		}
	}
}

// ListenRedis delivers updates published by any API instance to this
// instance's viewers. Blocks until the context is cancelled.
func (h *Hub) ListenRedis(ctx context.Context, rdb *redis.Client) {
	sub := rdb.Subscribe(ctx, updatesChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn("dashboard update decode failed", "err", err)
				continue
			}
			h.Broadcast(env.TenantID, env.Update)
		}
	}
}
