package chat

import (
	"fmt"
	"time"
)

// Message is immutable once created except for two flags: IsRead, settable
// only by the receiver, and IsDeleted, settable only by the sender. A
// deleted message keeps its sequence slot but loses its payload for good.
type Message struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null" json:"-"`
	Seq            int64     `gorm:"column:seq;primaryKey;not null" json:"id"`
	SenderID       string    `gorm:"column:sender_id;size:190;not null" json:"sender_id"`
	ReceiverID     string    `gorm:"column:receiver_id;size:190;not null" json:"receiver_id"`
	Text           string    `gorm:"column:text;type:text" json:"text"`
	ImageRef       string    `gorm:"column:image_ref;size:512" json:"image_ref,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;not null" json:"timestamp"`
	IsRead         bool      `gorm:"column:is_read;not null;default:false" json:"is_read"`
	IsDeleted      bool      `gorm:"column:is_deleted;not null;default:false" json:"deleted"`
}

// TableName exposes the table backing chat messages.
func (Message) TableName() string {
	return "messages"
}

// ConversationID derives the canonical thread key for two participants.
func ConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("chat_%s_%s", a, b)
}
