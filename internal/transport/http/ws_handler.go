package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pairchat/pairchat-server/internal/auth"
	"github.com/pairchat/pairchat-server/internal/chat"
	"github.com/pairchat/pairchat-server/internal/core"
	"github.com/pairchat/pairchat-server/internal/metrics"
	"github.com/pairchat/pairchat-server/internal/proto"
	"github.com/pairchat/pairchat-server/internal/utils"
)

// WSHandler upgrades authenticated requests to the live chat channel.
type WSHandler struct {
	hub   *core.Hub
	auth  *auth.Service
	chats *chat.Service
	rate  int
	log   *zerolog.Logger
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, chats *chat.Service, ratePerMinute int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:   hub,
		auth:  authService,
		chats: chats,
		rate:  ratePerMinute,
		log:   logger,
	}
}

// wsToken pulls the token from the Authorization header or, for browser
// clients that cannot set headers on the upgrade request, the query string.
func wsToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// ServeWS handles the WebSocket upgrade on /ws. The token is checked before
// the upgrade so a bad credential never touches connection state.
func (h *WSHandler) ServeWS(c *gin.Context) {
	userID, err := h.auth.Admit(wsToken(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	client := core.NewClient(utils.NewID(), userID)
	h.hub.RegisterClient(client)
	metrics.ConnectionsActive.Inc()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer func() {
		cancel()
		h.hub.UnregisterClient(client)
		metrics.ConnectionsActive.Dec()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	h.log.Info().Str("conn_id", client.ID).Int64("user_id", userID).Msg("websocket connected")

	go h.writeLoop(ctx, conn, client)
	h.readLoop(ctx, conn, client)

	h.log.Info().Str("conn_id", client.ID).Int64("user_id", userID).Msg("websocket disconnected")
}

// writeLoop is the only goroutine that writes to the socket.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-client.Events:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := wsjson.Write(writeCtx, conn, outboundFromEvent(ev))
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) {
	var limiter *rate.Limiter
	if h.rate > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(h.rate)), h.rate/4+1)
	}

	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		if limiter != nil && !limiter.Allow() {
			h.sendError(client, "rate_limited", "too many commands, slow down")
			continue
		}
		h.dispatch(ctx, client, &in)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, client *core.Client, in *proto.Inbound) {
	switch in.Type {
	case proto.InboundTypeReady:
		if len(in.Data) > 0 {
			var data proto.ReadyData
			if err := json.Unmarshal(in.Data, &data); err != nil {
				h.sendError(client, chat.ErrCodeInvalidInput, "malformed ready data")
				return
			}
			if data.Protocol != 0 && data.Protocol != proto.ProtocolVersion {
				h.sendError(client, "unsupported_version", "unsupported protocol version")
				return
			}
		}
		ids, err := h.chats.ChatIDsForUser(ctx, client.UserID)
		if err != nil {
			h.sendError(client, chat.Code(err), "could not load chats")
			return
		}
		h.hub.JoinChats(client, ids)

	case proto.InboundTypeJoinChat:
		var data proto.JoinChatData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			h.sendError(client, chat.ErrCodeInvalidInput, "malformed join_chat data")
			return
		}
		ok, err := h.chats.IsParticipant(ctx, data.ChatID, client.UserID)
		if err != nil {
			h.sendError(client, chat.Code(err), "could not verify membership")
			return
		}
		// Silent refusal: joining a chat you are not part of produces no
		// subscription and no error detail.
		if ok {
			h.hub.JoinChat(client, data.ChatID)
		}

	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			h.sendError(client, chat.ErrCodeInvalidInput, "malformed send_message data")
			return
		}
		msg, roomID, err := h.chats.Submit(ctx, data.ChatID, client.UserID, data.Content)
		if err != nil {
			h.sendError(client, chat.Code(err), err.Error())
			return
		}
		h.hub.Publish(roomID, &core.Event{
			Kind:    core.EventMessageReceived,
			ChatID:  roomID,
			Message: msg,
		})

	case proto.InboundTypeMarkRead:
		var data proto.MarkReadData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			h.sendError(client, chat.ErrCodeInvalidInput, "malformed mark_read data")
			return
		}
		msg, changed, err := h.chats.MarkRead(ctx, data.ChatID, data.MessageID, client.UserID)
		if err != nil {
			h.sendError(client, chat.Code(err), err.Error())
			return
		}
		if changed {
			h.hub.Publish(data.ChatID, &core.Event{
				Kind:    core.EventReadReceiptUpdated,
				ChatID:  data.ChatID,
				Message: msg,
			})
		}

	default:
		h.sendError(client, chat.ErrCodeInvalidInput, "unknown command type")
	}
}

// sendError delivers a failure only to the connection that issued the
// command; the room never sees it.
func (h *WSHandler) sendError(client *core.Client, code, reason string) {
	h.hub.SendTo(client, &core.Event{
		Kind:   core.EventSendError,
		Code:   code,
		Reason: reason,
	})
}
