package core

import "github.com/pairchat/pairchat-server/internal/metrics"

// Room groups clients subscribed to the same chat. Rooms are a broadcast
// scope only; they persist nothing.
type Room struct {
	ID      int64
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(id int64) *Room {
	return &Room{
		ID:      id,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast sends an event to all clients in the room. Delivery is
// fire-and-forget: a slow consumer's event is dropped rather than blocking
// the room.
func (r *Room) Broadcast(event *Event) {
	for client := range r.clients {
		select {
		case client.Events <- event:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}
