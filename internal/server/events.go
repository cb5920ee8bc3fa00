package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/ember/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/ember/backend/internal/users"
)

// Realtime event vocabulary carried over the websocket channel. Every
// frame has a mandatory "type" discriminator.
const (
	EventNewMatch       = "new_match"
	EventNewMessage     = "new_message"
	EventMessageSent    = "message_sent"
	EventTyping         = "typing"
	EventMessagesRead   = "messages_read"
	EventMessageDeleted = "message_deleted"
	EventUserStatus     = "user_status"

	inboundEventMessage       = "message"
	inboundEventTyping        = "typing"
	inboundEventRead          = "read"
	inboundEventDeleteMessage = "delete_message"
)

// inboundEvent is the union of all client frame shapes; unused fields stay
// at their zero values for a given type.
type inboundEvent struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	PartnerID  string `json:"partner_id,omitempty"`
	Text       string `json:"text,omitempty"`
	ImageRef   string `json:"image_ref,omitempty"`
	IsTyping   bool   `json:"is_typing,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`
}

type matchEvent struct {
	Type string        `json:"type"`
	User users.Summary `json:"user"`
}

type messageEvent struct {
	Type    string       `json:"type"`
	Message chat.Message `json:"message"`
}

type typingEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type messagesReadEvent struct {
	Type     string `json:"type"`
	ReaderID string `json:"reader_id"`
}

type messageDeletedEvent struct {
	Type           string `json:"type"`
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"chat_id"`
}

type userStatusEvent struct {
	Type     string     `json:"type"`
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
