package core

// Client is a live connection as seen by the hub. A client belongs to
// exactly one authenticated user for its lifetime.
type Client struct {
	ID     string
	UserID int64

	// Events is drained by the connection's write loop. Broadcast delivery
	// is best-effort: the hub drops events when the buffer is full rather
	// than block the room.
	Events chan *Event

	// rooms is owned by the hub goroutine; nothing else may touch it.
	rooms map[int64]struct{}
}

// NewClient constructs a client with an initialized event buffer.
func NewClient(id string, userID int64) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Events: make(chan *Event, 32),
		rooms:  make(map[int64]struct{}),
	}
}
