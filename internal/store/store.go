package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by store implementations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("duplicate")
)

// User represents a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	AvatarFile   string
	CreatedAt    time.Time
}

// Chat is a durable conversation between exactly two users. It is the unit
// of consistency: all mutation goes through atomic ChatStore operations
// keyed by its id.
type Chat struct {
	ID           int64
	UserAID      int64
	UserBID      int64
	PairKey      string // "dm:{minUserID}:{maxUserID}", unique
	LastActivity time.Time
	CreatedAt    time.Time
}

// Participants returns both participant ids.
func (c *Chat) Participants() [2]int64 {
	return [2]int64{c.UserAID, c.UserBID}
}

// HasParticipant reports whether userID is one of the chat's two participants.
func (c *Chat) HasParticipant(userID int64) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// Message is a persisted chat message. ReadBy grows monotonically and never
// contains the sender.
type Message struct {
	ID        int64
	ChatID    int64
	SenderID  int64
	Content   string
	CreatedAt time.Time
	ReadBy    []int64
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by id.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByEmail retrieves a user by email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// SearchUsers finds users whose username contains query, excluding excludeID.
	SearchUsers(ctx context.Context, query string, excludeID int64) ([]*User, error)

	// UpdateAvatar replaces the user's avatar file reference.
	UpdateAvatar(ctx context.Context, userID int64, avatarFile string) error
}

// ChatStore handles chat aggregate persistence. Every mutating operation is
// atomic with respect to its chat: implementations must not load-mutate-save
// whole aggregates.
type ChatStore interface {
	// GetOrCreateChat finds the chat between the two users, creating it on
	// first contact. The participant pair is unordered; concurrent calls for
	// the same pair converge on a single chat.
	GetOrCreateChat(ctx context.Context, userA, userB int64) (*Chat, error)

	// GetChat retrieves a chat by id, without its messages.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// ListChatsForUser lists the user's chats ordered by last activity,
	// most recent first.
	ListChatsForUser(ctx context.Context, userID int64) ([]*Chat, error)

	// ListChatIDsForUser lists ids of every chat the user participates in.
	ListChatIDsForUser(ctx context.Context, userID int64) ([]int64, error)

	// AppendMessage atomically appends a message to the chat's log and bumps
	// its last-activity timestamp. Returns the persisted message.
	AppendMessage(ctx context.Context, chatID, senderID int64, content string, at time.Time) (*Message, error)

	// AddReader adds readerID to the message's read set if absent. The write
	// is a set union: concurrent calls for the same reader converge on one
	// entry. Returns the post-update message and whether a write occurred.
	AddReader(ctx context.Context, chatID, messageID, readerID int64) (*Message, bool, error)

	// GetMessage retrieves a single message with its read set.
	GetMessage(ctx context.Context, chatID, messageID int64) (*Message, error)

	// ListMessages retrieves a chat's full message log in insertion order.
	ListMessages(ctx context.Context, chatID int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore

	// Close closes the underlying database connection.
	Close() error
}

// PairKey builds the normalized key for an unordered participant pair.
func PairKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("dm:%d:%d", userA, userB)
}
