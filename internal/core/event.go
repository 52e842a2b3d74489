package core

import "github.com/pairchat/pairchat-server/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessageReceived notifies a room about a newly persisted message.
	EventMessageReceived EventKind = iota
	// EventReadReceiptUpdated notifies a room that a message's read set grew.
	EventReadReceiptUpdated
	// EventSendError is delivered only to the originating client when its
	// command failed.
	EventSendError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind   EventKind
	ChatID int64

	// Message is set for EventMessageReceived and EventReadReceiptUpdated.
	Message *store.Message

	// Code and Reason are set for EventSendError.
	Code   string
	Reason string
}
