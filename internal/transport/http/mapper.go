package http

import (
	"github.com/pairchat/pairchat-server/internal/core"
	"github.com/pairchat/pairchat-server/internal/proto"
	"github.com/pairchat/pairchat-server/internal/store"
)

func messagePayload(m *store.Message) proto.MessagePayload {
	return proto.MessagePayload{
		ID:       m.ID,
		ChatID:   m.ChatID,
		SenderID: m.SenderID,
		Content:  m.Content,
		TS:       m.CreatedAt.Unix(),
		ReadBy:   m.ReadBy,
	}
}

// outboundFromEvent converts a core event into its wire envelope.
func outboundFromEvent(ev *core.Event) proto.Outbound {
	switch ev.Kind {
	case core.EventMessageReceived:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageReceived,
			Data: proto.EventMessageReceivedData{
				ChatID:  ev.ChatID,
				Message: messagePayload(ev.Message),
			},
		}
	case core.EventReadReceiptUpdated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventReadReceiptUpdated,
			Data: proto.EventReadReceiptUpdatedData{
				ChatID:    ev.ChatID,
				MessageID: ev.Message.ID,
				ReadBy:    ev.Message.ReadBy,
			},
		}
	case core.EventSendError:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Event: proto.EventSendError,
			Error: &proto.Error{Code: ev.Code, Msg: ev.Reason},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "internal", Msg: "unknown event"}}
	}
}
