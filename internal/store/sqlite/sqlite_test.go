package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pairchat/pairchat-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func seedUsers(t *testing.T, s *SQLiteStore, names ...string) []int64 {
	t.Helper()

	ctx := context.Background()
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		u, err := s.CreateUser(ctx, name, name+"@example.com", "hash")
		if err != nil {
			t.Fatalf("failed to create user %s: %v", name, err)
		}
		ids = append(ids, u.ID)
	}
	return ids
}

func TestGetOrCreateChat_OrderInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	first, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat(a,b): %v", err)
	}
	second, err := s.GetOrCreateChat(ctx, ids[1], ids[0])
	if err != nil {
		t.Fatalf("GetOrCreateChat(b,a): %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("expected same chat for swapped pair, got %d and %d", first.ID, second.ID)
	}
	if first.PairKey != store.PairKey(ids[1], ids[0]) {
		t.Fatalf("unexpected pair key %q", first.PairKey)
	}
}

func TestGetOrCreateChat_ConcurrentFirstContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	const callers = 8
	results := make(chan int64, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := ids[0], ids[1]
			if i%2 == 1 {
				a, b = b, a
			}
			chat, err := s.GetOrCreateChat(ctx, a, b)
			if err != nil {
				errs <- err
				return
			}
			results <- chat.ID
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent GetOrCreateChat failed: %v", err)
	}

	var chatID int64
	for id := range results {
		if chatID == 0 {
			chatID = id
			continue
		}
		if id != chatID {
			t.Fatalf("callers resolved different chats: %d vs %d", chatID, id)
		}
	}

	chats, err := s.ListChatsForUser(ctx, ids[0])
	if err != nil {
		t.Fatalf("ListChatsForUser: %v", err)
	}
	if len(chats) != 1 {
		t.Fatalf("expected exactly one chat row, got %d", len(chats))
	}
}

func TestAppendMessage_ConcurrentSendersLoseNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	chat, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}

	const senders = 20
	var wg sync.WaitGroup
	errs := make(chan error, senders)
	for i := range senders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := ids[i%2]
			if _, err := s.AppendMessage(ctx, chat.ID, sender, "msg", time.Now()); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent AppendMessage failed: %v", err)
	}

	messages, err := s.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(messages) != senders {
		t.Fatalf("expected %d messages, got %d (lost updates)", senders, len(messages))
	}

	seen := make(map[int64]bool, senders)
	lastID := int64(0)
	for _, msg := range messages {
		if seen[msg.ID] {
			t.Fatalf("duplicate message id %d", msg.ID)
		}
		seen[msg.ID] = true
		if msg.ID <= lastID {
			t.Fatalf("messages out of insertion order: %d after %d", msg.ID, lastID)
		}
		lastID = msg.ID
	}
}

func TestAppendMessage_BumpsLastActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	chat, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}

	at := time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.AppendMessage(ctx, chat.ID, ids[0], "hi", at); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	updated, err := s.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if !updated.LastActivity.Equal(at) {
		t.Fatalf("expected last activity %v, got %v", at, updated.LastActivity)
	}
}

func TestAddReader_IdempotentUnion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	chat, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}
	msg, err := s.AppendMessage(ctx, chat.ID, ids[0], "hi", time.Now())
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	updated, changed, err := s.AddReader(ctx, chat.ID, msg.ID, ids[1])
	if err != nil {
		t.Fatalf("AddReader: %v", err)
	}
	if !changed {
		t.Fatalf("expected first AddReader to report a write")
	}
	if len(updated.ReadBy) != 1 || updated.ReadBy[0] != ids[1] {
		t.Fatalf("unexpected readBy after first read: %v", updated.ReadBy)
	}

	again, changed, err := s.AddReader(ctx, chat.ID, msg.ID, ids[1])
	if err != nil {
		t.Fatalf("second AddReader: %v", err)
	}
	if changed {
		t.Fatalf("expected second AddReader to be a no-op")
	}
	if len(again.ReadBy) != 1 {
		t.Fatalf("readBy grew on duplicate read: %v", again.ReadBy)
	}
}

func TestAddReader_ConcurrentSameReader(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	chat, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}
	msg, err := s.AppendMessage(ctx, chat.ID, ids[0], "hi", time.Now())
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	const readers = 10
	var wg sync.WaitGroup
	var writes int64
	var mu sync.Mutex
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.AddReader(ctx, chat.ID, msg.ID, ids[1])
			if err != nil {
				t.Errorf("AddReader: %v", err)
				return
			}
			if changed {
				mu.Lock()
				writes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if writes != 1 {
		t.Fatalf("expected exactly one write across concurrent reads, got %d", writes)
	}

	final, err := s.GetMessage(ctx, chat.ID, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if len(final.ReadBy) != 1 {
		t.Fatalf("expected single readBy entry, got %v", final.ReadBy)
	}
}

func TestAddReader_UnknownMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob")

	chat, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}

	if _, _, err := s.AddReader(ctx, chat.ID, 999, ids[1]); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListChatsForUser_OrderedByActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "bob", "carol")

	older, err := s.GetOrCreateChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}
	newer, err := s.GetOrCreateChat(ctx, ids[0], ids[2])
	if err != nil {
		t.Fatalf("GetOrCreateChat: %v", err)
	}

	base := time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.AppendMessage(ctx, newer.ID, ids[0], "first", base); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(ctx, older.ID, ids[0], "second", base.Add(time.Minute)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	chats, err := s.ListChatsForUser(ctx, ids[0])
	if err != nil {
		t.Fatalf("ListChatsForUser: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	if chats[0].ID != older.ID {
		t.Fatalf("expected most recently active chat first, got chat %d", chats[0].ID)
	}

	// carol sees only her chat
	carols, err := s.ListChatsForUser(ctx, ids[2])
	if err != nil {
		t.Fatalf("ListChatsForUser(carol): %v", err)
	}
	if len(carols) != 1 || carols[0].ID != newer.ID {
		t.Fatalf("unexpected chats for carol: %+v", carols)
	}
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "alice", "alice@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice2", "alice@example.com", "hash"); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSearchUsers_ExcludesSelf(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ids := seedUsers(t, s, "alice", "alex", "bob")

	users, err := s.SearchUsers(ctx, "al", ids[0])
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alex" {
		t.Fatalf("unexpected search result: %+v", users)
	}
}
