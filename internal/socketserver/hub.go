package socketserver

import (
	"sort"
	"sync"

	"github.com/codefionn/scee/internal/logger"
	"github.com/codefionn/scee/internal/metrics"
	"github.com/codefionn/scee/internal/protocol"
)

// Hub is the session registry. It maps connection ids to their clients and
// fans broadcasts out to the members of a room.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex

	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewHub creates a new hub
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		metrics: m,
		log:     logger.Global().WithPrefix("hub"),
	}
}

// Register adds a client under its connection id
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	h.log.Info("client registered: %s from %s (total: %d)", client.ID, client.Addr, len(h.clients))
}

// Remove drops a client. Removing an unknown id is a no-op.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[id]; ok {
		delete(h.clients, id)
		h.log.Info("client unregistered: %s (total: %d)", id, len(h.clients))
	}
}

// Get returns the client registered under id
func (h *Hub) Get(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[id]
	return client, ok
}

// Count returns the number of registered clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// CountByState returns the number of sessions currently in state
func (h *Hub) CountByState(state State) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, client := range h.clients {
		if client.Session.State() == state {
			n++
		}
	}
	return n
}

// MembersOf returns the ids of every session currently in roomID
func (h *Hub) MembersOf(roomID int64) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0)
	for id, client := range h.clients {
		if client.Session.InRoom(roomID) {
			ids = append(ids, id)
		}
	}
	return ids
}

// BroadcastOption adjusts a single broadcast
type BroadcastOption func(*broadcastOptions)

type broadcastOptions struct {
	system        bool
	includeSender bool
}

// AsSystem labels the broadcast with the System sender instead of the
// sender's username
func AsSystem() BroadcastOption {
	return func(o *broadcastOptions) { o.system = true }
}

// IncludeSender also delivers the broadcast to the sending session
func IncludeSender() BroadcastOption {
	return func(o *broadcastOptions) { o.includeSender = true }
}

// Broadcast delivers content to every session in roomID and returns how
// many recipients it was queued for. A recipient that cannot take the frame
// is skipped without affecting the rest. Nothing is persisted here.
func (h *Hub) Broadcast(roomID int64, senderID, content string, opts ...BroadcastOption) int {
	var o broadcastOptions
	for _, opt := range opts {
		opt(&o)
	}

	sender := protocol.SystemSender
	if !o.system {
		client, ok := h.Get(senderID)
		if !ok {
			h.log.Warn("broadcast from unknown session %s dropped", senderID)
			return 0
		}
		sender = client.Session.Username()
	}

	frame := protocol.BroadcastFrame(sender, content)

	delivered := 0
	for _, id := range h.MembersOf(roomID) {
		if id == senderID && !o.includeSender {
			continue
		}
		client, ok := h.Get(id)
		if !ok {
			// Disconnected since the snapshot
			continue
		}
		if !client.Session.InRoom(roomID) {
			continue
		}
		if !client.enqueue(frame) {
			h.log.Warn("dropping broadcast for %s: connection closing or send buffer full", id)
			h.metrics.FrameDropped(metrics.DropSendFull)
			continue
		}
		delivered++
	}

	h.metrics.Broadcast(delivered)
	return delivered
}

// Snapshot lists every registered session ordered by connection time
func (h *Hub) Snapshot() []SessionInfo {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(clients))
	for _, client := range clients {
		state, user, roomID := client.Session.info()
		infos = append(infos, SessionInfo{
			ID:          client.ID,
			Addr:        client.Addr,
			State:       state.String(),
			User:        user,
			RoomID:      roomID,
			ConnectedAt: client.ConnectedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
