package core

import (
	"context"

	"github.com/rs/zerolog"
)

// Hub owns room membership and event fan-out. A single Run goroutine applies
// all membership changes and publishes, which makes joins idempotent without
// locks and guarantees FIFO delivery per room for events published by the
// same operation sequence.
//
// The hub never performs store I/O: callers resolve chat ids and
// authorization before enqueueing a join, and persist messages before
// enqueueing a publish. A publish to a room nobody joined is a no-op.
type Hub struct {
	registry *Registry
	log      *zerolog.Logger

	ops     chan func()
	done    chan struct{}
	rooms   map[int64]*Room
	clients map[*Client]struct{}
}

// NewHub creates a hub using the given registry for presence bookkeeping.
func NewHub(registry *Registry, logger *zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		log:      logger,
		ops:      make(chan func(), 256),
		done:     make(chan struct{}),
		rooms:    make(map[int64]*Room),
		clients:  make(map[*Client]struct{}),
	}
}

// Run processes hub operations until the context is cancelled. It must be
// called in its own goroutine before any client is registered.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case op := <-h.ops:
			op()
		case <-ctx.Done():
			for client := range h.clients {
				h.detach(client)
			}
			close(h.done)
			return
		}
	}
}

// enqueue hands an operation to the Run goroutine. Operations arriving after
// shutdown are dropped so connection goroutines still draining cannot block
// on a hub that no longer runs.
func (h *Hub) enqueue(op func()) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}

// RegisterClient attaches a connection to the hub and records its presence.
func (h *Hub) RegisterClient(client *Client) {
	h.enqueue(func() {
		h.clients[client] = struct{}{}
		h.registry.Register(client.UserID, client.ID)
		if h.log != nil {
			h.log.Debug().Str("conn_id", client.ID).Int64("user_id", client.UserID).Msg("client registered")
		}
	})
}

// UnregisterClient detaches a connection, drops its room subscriptions and
// clears its presence entry. Safe to call more than once.
func (h *Hub) UnregisterClient(client *Client) {
	h.enqueue(func() {
		if _, ok := h.clients[client]; !ok {
			return
		}
		h.detach(client)
		if h.log != nil {
			h.log.Debug().Str("conn_id", client.ID).Int64("user_id", client.UserID).Msg("client unregistered")
		}
	})
}

// detach runs on the hub goroutine.
func (h *Hub) detach(client *Client) {
	delete(h.clients, client)
	for chatID := range client.rooms {
		if room, ok := h.rooms[chatID]; ok {
			room.RemoveClient(client)
			if room.Empty() {
				delete(h.rooms, chatID)
			}
		}
	}
	client.rooms = make(map[int64]struct{})
	h.registry.Unregister(client.ID)
}

// JoinChats subscribes the client to each chat room. Re-joining a room the
// client already sits in is a no-op, so replays of the ready signal are
// harmless.
func (h *Hub) JoinChats(client *Client, chatIDs []int64) {
	h.enqueue(func() {
		if _, ok := h.clients[client]; !ok {
			return
		}
		for _, chatID := range chatIDs {
			h.join(client, chatID)
		}
	})
}

// JoinChat subscribes the client to a single chat room. Authorization is the
// caller's job; the hub only tracks membership.
func (h *Hub) JoinChat(client *Client, chatID int64) {
	h.enqueue(func() {
		if _, ok := h.clients[client]; !ok {
			return
		}
		h.join(client, chatID)
	})
}

// join runs on the hub goroutine.
func (h *Hub) join(client *Client, chatID int64) {
	room, ok := h.rooms[chatID]
	if !ok {
		room = NewRoom(chatID)
		h.rooms[chatID] = room
	}
	if room.AddClient(client) {
		client.rooms[chatID] = struct{}{}
	}
}

// Publish fans an event out to every connection subscribed to the room.
// Best-effort and fire-and-forget; a missing room or slow subscriber never
// fails the publish.
func (h *Hub) Publish(chatID int64, event *Event) {
	h.enqueue(func() {
		if room, ok := h.rooms[chatID]; ok {
			room.Broadcast(event)
		}
	})
}

// SendTo delivers an event to one client only, regardless of rooms. Used
// for local-only errors.
func (h *Hub) SendTo(client *Client, event *Event) {
	h.enqueue(func() {
		if _, ok := h.clients[client]; !ok {
			return
		}
		select {
		case client.Events <- event:
		default:
		}
	})
}
