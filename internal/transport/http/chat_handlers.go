package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/pairchat/pairchat-server/internal/chat"
	"github.com/pairchat/pairchat-server/internal/core"
	"github.com/pairchat/pairchat-server/internal/store"
)

// ChatHandlers provides the REST fallback surface for chats. Validation is
// identical to the live channel; successful mutations broadcast through the
// hub exactly like WebSocket commands do.
type ChatHandlers struct {
	chats    *chat.Service
	store    store.UserStore
	hub      *core.Hub
	registry *core.Registry
	log      *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(chats *chat.Service, st store.UserStore, hub *core.Hub, registry *core.Registry, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		chats:    chats,
		store:    st,
		hub:      hub,
		registry: registry,
		log:      logger,
	}
}

// CreateChatRequest asks for the chat with another user.
type CreateChatRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// SendMessageRequest posts a message outside the live channel.
type SendMessageRequest struct {
	ChatID  int64  `json:"chat_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// MarkReadRequest records a read receipt outside the live channel.
type MarkReadRequest struct {
	ChatID    int64 `json:"chat_id" binding:"required"`
	MessageID int64 `json:"message_id" binding:"required"`
}

// ChatResponse represents a chat in API responses.
type ChatResponse struct {
	ID           int64          `json:"id"`
	Participants []UserResponse `json:"participants"`
	LastActivity string         `json:"last_activity"`
	CreatedAt    string         `json:"created_at"`
}

// ChatDetailResponse is a chat with its full message history.
type ChatDetailResponse struct {
	ChatResponse
	Messages []MessageResponse `json:"messages"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        int64   `json:"id"`
	ChatID    int64   `json:"chat_id"`
	SenderID  int64   `json:"sender_id"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
	ReadBy    []int64 `json:"read_by"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.Format(timeLayout),
		ReadBy:    m.ReadBy,
	}
}

// chatResponse resolves participant summaries with presence.
func (h *ChatHandlers) chatResponse(ctx context.Context, c *store.Chat) ChatResponse {
	participants := make([]UserResponse, 0, 2)
	for _, id := range c.Participants() {
		resp := UserResponse{ID: id, Online: h.registry.IsOnline(id)}
		if user, err := h.store.GetUserByID(ctx, id); err == nil {
			resp.Username = user.Username
			resp.Avatar = user.AvatarFile
		}
		participants = append(participants, resp)
	}

	return ChatResponse{
		ID:           c.ID,
		Participants: participants,
		LastActivity: c.LastActivity.Format(timeLayout),
		CreatedAt:    c.CreatedAt.Format(timeLayout),
	}
}

func (h *ChatHandlers) writeServiceError(c *gin.Context, err error) {
	switch chat.Code(err) {
	case chat.ErrCodeNotFound:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	case chat.ErrCodeForbidden:
		// Generic denial; no detail about whether the chat exists.
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
	case chat.ErrCodeInvalidInput:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case chat.ErrCodeTimeout:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry"})
	default:
		h.log.Error().Err(err).Msg("chat operation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

// SearchUsers finds users by username substring.
// GET /api/chat/search?q=query
func (h *ChatHandlers) SearchUsers(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "search query is required"})
		return
	}

	users, err := h.store.SearchUsers(c.Request.Context(), query, userID)
	if err != nil {
		h.log.Error().Err(err).Str("query", query).Msg("failed to search users")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := lo.Map(users, func(u *store.User, _ int) UserResponse {
		resp := userResponse(u)
		resp.Online = h.registry.IsOnline(u.ID)
		return resp
	})
	c.JSON(http.StatusOK, response)
}

// CreateChat finds or creates the chat with another user.
// POST /api/chat/create
func (h *ChatHandlers) CreateChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	created, err := h.chats.GetOrCreate(c.Request.Context(), userID, req.UserID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.chatResponse(c.Request.Context(), created))
}

// ListChats lists the caller's chats, most recently active first.
// GET /api/chat/chats
func (h *ChatHandlers) ListChats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chats, err := h.chats.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	response := lo.Map(chats, func(ch *store.Chat, _ int) ChatResponse {
		return h.chatResponse(c.Request.Context(), ch)
	})
	c.JSON(http.StatusOK, response)
}

// GetChat fetches one chat with its full message history.
// GET /api/chat/:chatId
func (h *ChatHandlers) GetChat(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid chat id"})
		return
	}

	found, messages, err := h.chats.GetChatWithMessages(c.Request.Context(), chatID, userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, ChatDetailResponse{
		ChatResponse: h.chatResponse(c.Request.Context(), found),
		Messages: lo.Map(messages, func(m *store.Message, _ int) MessageResponse {
			return messageResponse(m)
		}),
	})
}

// SendMessage posts a message through the REST fallback path.
// POST /api/chat/message
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, roomID, err := h.chats.Submit(c.Request.Context(), req.ChatID, userID, req.Content)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	h.hub.Publish(roomID, &core.Event{
		Kind:    core.EventMessageReceived,
		ChatID:  roomID,
		Message: msg,
	})

	c.JSON(http.StatusCreated, messageResponse(msg))
}

// MarkRead records a read receipt through the REST fallback path. A no-op
// read returns current state and broadcasts nothing.
// POST /api/chat/message/read
func (h *ChatHandlers) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, changed, err := h.chats.MarkRead(c.Request.Context(), req.ChatID, req.MessageID, userID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	if changed {
		h.hub.Publish(req.ChatID, &core.Event{
			Kind:    core.EventReadReceiptUpdated,
			ChatID:  req.ChatID,
			Message: msg,
		})
	}

	c.JSON(http.StatusOK, messageResponse(msg))
}
