package domain

import (
	"context"
	"time"
)

// MessageKind distinguishes user content from audit lines
type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageImage  MessageKind = "image"
	MessageSystem MessageKind = "system"
)

// Message is an immutable entry in a chat's stream
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	Kind      MessageKind `json:"kind"`
	SenderID  *string     `json:"sender_id,omitempty"`
	Text      string      `json:"text,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	// Create assigns ID and CreatedAt. CreatedAt never goes backwards within a chat.
	Create(ctx context.Context, message *Message) error
	// ListRecent returns up to limit of the newest messages at or after since, oldest first.
	ListRecent(ctx context.Context, chatID string, since *time.Time, limit int) ([]*Message, error)
}
