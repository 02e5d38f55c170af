package hub

import (
	"encoding/json"
	"sync"

	"orderly/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conn is the transport side of a live subscriber.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Hub fans order updates out to subscribed connections. It keeps no
// history; a subscriber only sees messages broadcast after it subscribed.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]map[Conn]struct{}
	users       map[Conn]uuid.UUID
	logger      *zap.Logger
}

func New() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[Conn]struct{}),
		users:       make(map[Conn]uuid.UUID),
		logger:      util.GetLogger(),
	}
}

// Connect registers c for user. Connecting the same conn twice is a no-op.
func (h *Hub) Connect(c Conn, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.users[c]; ok {
		return
	}
	h.users[c] = userID
	util.HubConnections.Inc()
}

// Subscribe adds c to the subscribers of orderID. Unknown conns are ignored.
func (h *Hub) Subscribe(c Conn, orderID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.users[c]; !ok {
		return false
	}
	subs, ok := h.subscribers[orderID]
	if !ok {
		subs = make(map[Conn]struct{})
		h.subscribers[orderID] = subs
	}
	subs[c] = struct{}{}
	return true
}

// Disconnect removes c everywhere and closes it.
func (h *Hub) Disconnect(c Conn) {
	h.mu.Lock()
	removed := h.remove(c)
	h.mu.Unlock()

	if removed {
		_ = c.Close()
	}
}

// remove must be called with mu held.
func (h *Hub) remove(c Conn) bool {
	if _, ok := h.users[c]; !ok {
		return false
	}
	delete(h.users, c)
	util.HubConnections.Dec()

	for orderID, subs := range h.subscribers {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscribers, orderID)
		}
	}
	return true
}

// Broadcast sends message to every subscriber of orderID and returns how
// many received it. Subscribers whose send fails are dropped.
func (h *Hub) Broadcast(orderID uuid.UUID, message any) int {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.Error(err))
		return 0
	}

	h.mu.Lock()
	var dead []Conn
	delivered := 0
	for c := range h.subscribers[orderID] {
		if err := c.Send(data); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}
	for _, c := range dead {
		h.remove(c)
	}
	h.mu.Unlock()

	for _, c := range dead {
		_ = c.Close()
	}

	if len(dead) > 0 {
		h.logger.Warn("Dropped failing subscribers",
			zap.String("order_id", orderID.String()),
			zap.Int("dropped", len(dead)))
		util.HubBroadcastsTotal.WithLabelValues("dropped").Add(float64(len(dead)))
	}
	util.HubBroadcastsTotal.WithLabelValues("delivered").Add(float64(delivered))
	return delivered
}

// Subscribers returns the number of connections watching orderID.
func (h *Hub) Subscribers(orderID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[orderID])
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.users)
}
