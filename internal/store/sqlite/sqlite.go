package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pairchat/pairchat-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
//
// Mutations are expressed as single statements or single transactions so
// that each chat aggregate is updated atomically: a message append is one
// INSERT plus one UPDATE inside a transaction, a read receipt is one
// conditional INSERT. Nothing reads an aggregate into memory to write it
// back whole.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, applySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a reduced schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func applySchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		avatar_file   TEXT NOT NULL DEFAULT 'profile.png',
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chats (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		user_a_id     INTEGER NOT NULL,
		user_b_id     INTEGER NOT NULL,
		pair_key      TEXT NOT NULL UNIQUE,
		last_activity DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (user_a_id) REFERENCES users(id),
		FOREIGN KEY (user_b_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id    INTEGER NOT NULL,
		sender_id  INTEGER NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id),
		FOREIGN KEY (sender_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id INTEGER NOT NULL,
		reader_id  INTEGER NOT NULL,
		read_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (message_id, reader_id),
		FOREIGN KEY (message_id) REFERENCES messages(id),
		FOREIGN KEY (reader_id) REFERENCES users(id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
	CREATE INDEX IF NOT EXISTS idx_chats_user_a ON chats(user_a_id);
	CREATE INDEX IF NOT EXISTS idx_chats_user_b ON chats(user_b_id);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user: %w", store.ErrDuplicate)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by id.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	query := `
		SELECT id, username, email, password_hash, avatar_file, created_at
		FROM users ` + where
	var user store.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.AvatarFile,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// SearchUsers finds users whose username contains query, excluding excludeID.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, excludeID int64) ([]*store.User, error) {
	q := `
		SELECT id, username, email, password_hash, avatar_file, created_at
		FROM users
		WHERE username LIKE ? AND id != ?
		ORDER BY username ASC
	`
	rows, err := s.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var user store.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.PasswordHash,
			&user.AvatarFile,
			&user.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// UpdateAvatar replaces the user's avatar file reference.
func (s *SQLiteStore) UpdateAvatar(ctx context.Context, userID int64, avatarFile string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_file = ? WHERE id = ?`, avatarFile, userID)
	if err != nil {
		return fmt.Errorf("update avatar: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user: %w", store.ErrNotFound)
	}
	return nil
}

// ==== ChatStore implementation ====

// GetOrCreateChat finds the chat between the two users, creating it on first
// contact. Concurrent first contact races on the pair_key UNIQUE index; the
// loser retries as a lookup so both callers converge on the same row.
func (s *SQLiteStore) GetOrCreateChat(ctx context.Context, userA, userB int64) (*store.Chat, error) {
	pairKey := store.PairKey(userA, userB)

	chat, err := s.getChatByPairKey(ctx, pairKey)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	query := `
		INSERT INTO chats (user_a_id, user_b_id, pair_key)
		VALUES (?, ?, ?)
	`
	a, b := userA, userB
	if a > b {
		a, b = b, a
	}
	result, err := s.db.ExecContext(ctx, query, a, b, pairKey)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the creation race; the chat exists now.
			return s.getChatByPairKey(ctx, pairKey)
		}
		return nil, fmt.Errorf("insert chat: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetChat(ctx, id)
}

// GetChat retrieves a chat by id, without its messages.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID int64) (*store.Chat, error) {
	return s.getChatWhere(ctx, `WHERE id = ?`, chatID)
}

func (s *SQLiteStore) getChatByPairKey(ctx context.Context, pairKey string) (*store.Chat, error) {
	return s.getChatWhere(ctx, `WHERE pair_key = ?`, pairKey)
}

func (s *SQLiteStore) getChatWhere(ctx context.Context, where string, arg any) (*store.Chat, error) {
	query := `
		SELECT id, user_a_id, user_b_id, pair_key, last_activity, created_at
		FROM chats ` + where
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&chat.ID,
		&chat.UserAID,
		&chat.UserBID,
		&chat.PairKey,
		&chat.LastActivity,
		&chat.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	return &chat, nil
}

// ListChatsForUser lists the user's chats ordered by last activity descending.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID int64) ([]*store.Chat, error) {
	query := `
		SELECT id, user_a_id, user_b_id, pair_key, last_activity, created_at
		FROM chats
		WHERE user_a_id = ? OR user_b_id = ?
		ORDER BY last_activity DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var chats []*store.Chat
	for rows.Next() {
		var chat store.Chat
		if err := rows.Scan(
			&chat.ID,
			&chat.UserAID,
			&chat.UserBID,
			&chat.PairKey,
			&chat.LastActivity,
			&chat.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, &chat)
	}

	return chats, rows.Err()
}

// ListChatIDsForUser lists ids of every chat the user participates in.
func (s *SQLiteStore) ListChatIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT id FROM chats
		WHERE user_a_id = ? OR user_b_id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// AppendMessage atomically appends a message and bumps last_activity. The
// append is a bare INSERT, so concurrent senders on the same chat each get
// their own row; nothing is overwritten.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID, senderID int64, content string, at time.Time) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`, chatID, senderID, content, at)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE chats SET last_activity = ? WHERE id = ?
	`, at, chatID); err != nil {
		return nil, fmt.Errorf("update last activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &store.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: at,
		ReadBy:    []int64{},
	}, nil
}

// AddReader records that readerID has read the message. The conditional
// INSERT is the union primitive: a second call for the same reader writes
// nothing and reports no change.
func (s *SQLiteStore) AddReader(ctx context.Context, chatID, messageID, readerID int64) (*store.Message, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, reader_id)
		SELECT id, ? FROM messages WHERE id = ? AND chat_id = ?
	`, readerID, messageID, chatID)
	if err != nil {
		return nil, false, fmt.Errorf("insert read receipt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("get rows affected: %w", err)
	}

	msg, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, false, err
	}

	return msg, rows > 0, nil
}

// GetMessage retrieves a single message with its read set.
func (s *SQLiteStore) GetMessage(ctx context.Context, chatID, messageID int64) (*store.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, created_at
		FROM messages
		WHERE id = ? AND chat_id = ?
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, messageID, chatID).Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	readBy, err := s.listReaders(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	msg.ReadBy = readBy

	return &msg, nil
}

// ListMessages retrieves a chat's full message log in insertion order.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID int64) ([]*store.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, msg := range messages {
		readBy, err := s.listReaders(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		msg.ReadBy = readBy
	}

	return messages, nil
}

func (s *SQLiteStore) listReaders(ctx context.Context, messageID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reader_id FROM message_reads
		WHERE message_id = ?
		ORDER BY read_at ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query readers: %w", err)
	}
	defer rows.Close()

	readBy := []int64{}
	for rows.Next() {
		var readerID int64
		if err := rows.Scan(&readerID); err != nil {
			return nil, fmt.Errorf("scan reader: %w", err)
		}
		readBy = append(readBy, readerID)
	}

	return readBy, rows.Err()
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
