package domain

import "time"

// MessageEvent is published to other processes after a message is appended
type MessageEvent struct {
	ChatID       string      `json:"chat_id"`
	ChatKind     Kind        `json:"chat_kind"`
	ChatLabel    string      `json:"chat_label"`
	MessageID    string      `json:"message_id"`
	Kind         MessageKind `json:"kind"`
	SenderID     string      `json:"sender_id,omitempty"`
	SenderName   string      `json:"sender_name,omitempty"`
	Preview      string      `json:"preview"`
	RecipientIDs []string    `json:"recipient_ids"`
	CreatedAt    time.Time   `json:"created_at"`
}
