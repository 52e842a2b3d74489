package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pairchat/pairchat-server/internal/metrics"
	"github.com/pairchat/pairchat-server/internal/store"
)

// Service owns all chat aggregate operations: find-or-create, the message
// ingestion pipeline and the read-receipt processor. It validates and
// persists but never broadcasts; callers publish the returned state through
// the hub so persistence and delivery stay independently testable.
type Service struct {
	store        store.Store
	storeTimeout time.Duration
}

// NewService creates a chat service. storeTimeout bounds every store
// operation; zero means no bound.
func NewService(st store.Store, storeTimeout time.Duration) *Service {
	return &Service{
		store:        st,
		storeTimeout: storeTimeout,
	}
}

// opCtx derives a bounded context for a store operation.
func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// mapStoreErr translates store sentinels into service errors.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	// A caller that went away mid-operation is treated like a timeout:
	// nothing was committed and the operation is safe to retry.
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	default:
		return err
	}
}

// GetOrCreate finds or creates the chat between userID and otherID. The pair
// is unordered; concurrent first contact converges on a single chat.
func (s *Service) GetOrCreate(ctx context.Context, userID, otherID int64) (*store.Chat, error) {
	if otherID == userID {
		return nil, fmt.Errorf("%w: cannot start a chat with yourself", ErrInvalidInput)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.store.GetUserByID(ctx, otherID); err != nil {
		return nil, mapStoreErr(err)
	}

	chat, err := s.store.GetOrCreateChat(ctx, userID, otherID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return chat, nil
}

// ListForUser lists the caller's chats, most recently active first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*store.Chat, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return chats, nil
}

// ChatIDsForUser lists ids of every chat the user participates in. The hub
// uses this to subscribe a fresh connection to its rooms.
func (s *Service) ChatIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ids, err := s.store.ListChatIDsForUser(ctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return ids, nil
}

// IsParticipant reports whether userID participates in chatID. An unknown
// chat is reported as not-a-participant so callers can refuse without
// leaking existence.
func (s *Service) IsParticipant(ctx context.Context, chatID, userID int64) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, mapStoreErr(err)
	}
	return chat.HasParticipant(userID), nil
}

// GetChatWithMessages fetches one chat and its full history. The caller must
// be a participant.
func (s *Service) GetChatWithMessages(ctx context.Context, chatID, userID int64) (*store.Chat, []*store.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	if !chat.HasParticipant(userID) {
		return nil, nil, ErrForbidden
	}

	messages, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	return chat, messages, nil
}

// Submit validates and persists a new message, stamping server time and
// bumping the chat's activity. On success it returns the persisted message
// and the room id the caller should broadcast to. Validation order: chat
// exists, content non-empty after trimming, sender is a participant.
func (s *Service) Submit(ctx context.Context, chatID, senderID int64, content string) (*store.Message, int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, 0, fmt.Errorf("%w: empty message content", ErrInvalidInput)
	}

	if !chat.HasParticipant(senderID) {
		return nil, 0, ErrForbidden
	}

	// Server-side timestamp; client-supplied times are never trusted.
	msg, err := s.store.AppendMessage(ctx, chatID, senderID, content, time.Now().UTC())
	if err != nil {
		return nil, 0, mapStoreErr(err)
	}

	metrics.MessagesPersisted.Inc()
	return msg, chat.ID, nil
}

// MarkRead idempotently records that readerID has read the message. Reading
// your own message or an already-read message is a successful no-op: the
// current state is returned with changed=false and callers must not
// re-broadcast. Only participants may mark messages read.
func (s *Service) MarkRead(ctx context.Context, chatID, messageID, readerID int64) (*store.Message, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}
	if !chat.HasParticipant(readerID) {
		return nil, false, ErrForbidden
	}

	msg, err := s.store.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}

	// readBy never contains the sender.
	if msg.SenderID == readerID {
		return msg, false, nil
	}

	updated, changed, err := s.store.AddReader(ctx, chatID, messageID, readerID)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}

	if changed {
		metrics.ReadReceiptsRecorded.Inc()
	}
	return updated, changed, nil
}
