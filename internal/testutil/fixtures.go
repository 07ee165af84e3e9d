package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"teamchat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// UserOptions allows customizing user fixture creation
type UserOptions struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// NewTestUser creates a test user with sensible defaults
// Pass options to override specific fields
func NewTestUser(opts ...func(*UserOptions)) *domain.User {
	o := &UserOptions{
		ID:           nextID("user"),
		Name:         fmt.Sprintf("Test User %d", idCounter.Load()),
		PasswordHash: "$2a$10$test.hash.for.testing.purposes.only", // bcrypt hash placeholder
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.Email == "" {
		o.Email = o.ID + "@example.com"
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	return &domain.User{
		ID:           o.ID,
		Name:         o.Name,
		Email:        o.Email,
		PasswordHash: o.PasswordHash,
		CreatedAt:    o.CreatedAt,
	}
}

// WithUserID sets the user ID
func WithUserID(id string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.ID = id
	}
}

// WithName sets the display name
func WithName(name string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.Name = name
	}
}

// WithEmail sets the email
func WithEmail(email string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.Email = email
	}
}

// WithPasswordHash sets the password hash
func WithPasswordHash(hash string) func(*UserOptions) {
	return func(o *UserOptions) {
		o.PasswordHash = hash
	}
}

// SessionOptions allows customizing session fixture creation
type SessionOptions struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewTestSession creates a test session with sensible defaults
func NewTestSession(opts ...func(*SessionOptions)) *domain.Session {
	o := &SessionOptions{
		ID:        nextID("session"),
		UserID:    nextID("user"),
		Token:     nextID("token"),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		CreatedAt: time.Now(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.Session{
		ID:        o.ID,
		UserID:    o.UserID,
		Token:     o.Token,
		ExpiresAt: o.ExpiresAt,
		CreatedAt: o.CreatedAt,
	}
}

// WithSessionUserID sets the user ID for the session
func WithSessionUserID(userID string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.UserID = userID
	}
}

// WithToken sets the session token
func WithToken(token string) func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.Token = token
	}
}

// WithExpired creates an expired session
func WithExpired() func(*SessionOptions) {
	return func(o *SessionOptions) {
		o.ExpiresAt = time.Now().Add(-1 * time.Hour)
	}
}

// ChatOptions allows customizing chat fixture creation
type ChatOptions struct {
	ID           string
	Kind         domain.Kind
	Label        string
	Participants []string
	CreatedBy    string
	CreatedAt    time.Time
}

// NewTestChat creates a chat whose participants all see it with zero unread
func NewTestChat(opts ...func(*ChatOptions)) *domain.Chat {
	o := &ChatOptions{
		ID:           nextID("chat"),
		Kind:         domain.KindGroup,
		Label:        fmt.Sprintf("Test Chat %d", idCounter.Load()),
		Participants: []string{nextID("user"), nextID("user")},
		CreatedAt:    time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(o)
	}
	if o.CreatedBy == "" && len(o.Participants) > 0 {
		o.CreatedBy = o.Participants[0]
	}

	chat := &domain.Chat{
		ID:                   o.ID,
		Kind:                 o.Kind,
		Label:                o.Label,
		ParticipantIDs:       append([]string(nil), o.Participants...),
		VisibleToIDs:         append([]string(nil), o.Participants...),
		ParticipantSummaries: make(map[string]domain.UserSummary, len(o.Participants)),
		UnreadCounts:         make(map[string]int, len(o.Participants)),
		CreatedBy:            o.CreatedBy,
		CreatedAt:            o.CreatedAt,
	}
	for _, id := range o.Participants {
		chat.ParticipantSummaries[id] = domain.UserSummary{ID: id, Name: id}
		chat.UnreadCounts[id] = 0
	}
	return chat
}

// WithChatID sets the chat ID
func WithChatID(id string) func(*ChatOptions) {
	return func(o *ChatOptions) {
		o.ID = id
	}
}

// WithKind sets the chat kind
func WithKind(kind domain.Kind) func(*ChatOptions) {
	return func(o *ChatOptions) {
		o.Kind = kind
	}
}

// WithLabel sets the chat label
func WithLabel(label string) func(*ChatOptions) {
	return func(o *ChatOptions) {
		o.Label = label
	}
}

// WithParticipants sets the members of the chat
func WithParticipants(ids ...string) func(*ChatOptions) {
	return func(o *ChatOptions) {
		o.Participants = ids
	}
}

// NewTestMessage creates a text message in chatID from senderID
func NewTestMessage(chatID, senderID, text string) *domain.Message {
	return &domain.Message{
		ID:        nextID("msg"),
		ChatID:    chatID,
		Kind:      domain.MessageText,
		SenderID:  &senderID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}
