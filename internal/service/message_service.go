package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"teamchat/internal/domain"
	"teamchat/internal/observability"
	"teamchat/internal/realtime"
)

const (
	// MaxMessageLength bounds message text in runes
	MaxMessageLength = 4000
	// MaxPreviewLength bounds the chat list snippet in runes
	MaxPreviewLength = 120

	PhotoPrefix  = "📷"
	PhotoPreview = PhotoPrefix + " Photo"
)

// EventPublisher forwards appended messages to other processes
type EventPublisher interface {
	PublishMessageEvent(ctx context.Context, event *domain.MessageEvent) error
}

// MessageService appends messages and keeps the chat's preview, unread
// counters and visibility in step with them.
type MessageService struct {
	chats    domain.ChatStore
	messages domain.MessageRepository
	changes  realtime.Publisher
	events   EventPublisher

	systemAffectsUnread bool
}

// NewMessageService creates a message service. events may be nil.
// systemAffectsUnread makes system notes count as unread and resurface
// hidden chats like user messages do.
func NewMessageService(
	chats domain.ChatStore,
	messages domain.MessageRepository,
	changes realtime.Publisher,
	events EventPublisher,
	systemAffectsUnread bool,
) *MessageService {
	return &MessageService{
		chats:               chats,
		messages:            messages,
		changes:             changes,
		events:              events,
		systemAffectsUnread: systemAffectsUnread,
	}
}

// Append stores a user message. Once the message is stored it is returned
// even if the chat bookkeeping that follows fails.
func (s *MessageService) Append(ctx context.Context, chatID, senderID, text, imageURL string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	imageURL = strings.TrimSpace(imageURL)
	if text == "" && imageURL == "" {
		return nil, domain.ErrEmptyMessage
	}

	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(senderID) {
		return nil, domain.ErrNotAuthorized
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, fmt.Errorf("message longer than %d characters: %w", MaxMessageLength, domain.ErrInvalidInput)
	}

	msg := &domain.Message{
		ChatID:   chatID,
		Kind:     domain.MessageText,
		SenderID: &senderID,
		Text:     text,
		ImageURL: imageURL,
	}
	if imageURL != "" {
		msg.Kind = domain.MessageImage
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	observability.ChatMessagesAppended.WithLabelValues(string(msg.Kind)).Inc()

	preview := Preview(text, imageURL)
	after := s.bookkeep(ctx, chat, &domain.ChatPatch{
		Preview:                &domain.PreviewUpdate{Text: preview, At: msg.CreatedAt},
		BumpParticipantsUnread: true,
		UnreadExempt:           senderID,
		ResurfaceParticipants:  true,
	})
	s.publish(chatID, after.Audience())
	s.emit(ctx, after, msg, preview, lo.Without(after.ParticipantIDs, senderID))
	return msg, nil
}

// AppendSystem stores an audit line. Unless system messages are configured
// to affect unread state, only the preview changes.
func (s *MessageService) AppendSystem(ctx context.Context, chatID, text string) (*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{ChatID: chatID, Kind: domain.MessageSystem, Text: text}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store system message: %w", err)
	}
	observability.ChatMessagesAppended.WithLabelValues(string(msg.Kind)).Inc()

	preview := Preview(text, "")
	patch := &domain.ChatPatch{Preview: &domain.PreviewUpdate{Text: preview, At: msg.CreatedAt}}
	if s.systemAffectsUnread {
		patch.BumpParticipantsUnread = true
		patch.ResurfaceParticipants = true
	}
	after := s.bookkeep(ctx, chat, patch)
	s.publish(chatID, after.Audience())
	if s.systemAffectsUnread {
		s.emit(ctx, after, msg, preview, after.ParticipantIDs)
	}
	return msg, nil
}

// MarkRead zeroes userID's unread counter. Repeating it is harmless.
func (s *MessageService) MarkRead(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := s.chats.Put(ctx, chatID, &domain.ChatPatch{SetUnread: map[string]int{userID: 0}})
	if err != nil {
		return nil, err
	}
	if s.changes != nil {
		s.changes.Publish(realtime.Change{ChatID: chatID, Kind: realtime.ChangeChat, Audience: []string{userID}})
	}
	return chat, nil
}

// bookkeep applies the post-append patch. On failure the message stands and
// the pre-append chat is returned; the next append or markRead heals it.
func (s *MessageService) bookkeep(ctx context.Context, before *domain.Chat, patch *domain.ChatPatch) *domain.Chat {
	after, err := s.chats.Put(ctx, before.ID, patch)
	if err != nil {
		observability.ChatBookkeepingFailures.WithLabelValues("append").Inc()
		observability.FromContext(ctx).Warn("message stored but chat bookkeeping failed",
			"chat_id", before.ID, observability.Err(err))
		return before
	}
	return after
}

func (s *MessageService) publish(chatID string, audience []string) {
	if s.changes == nil {
		return
	}
	s.changes.Publish(realtime.Change{ChatID: chatID, Kind: realtime.ChangeMessages, Audience: audience})
}

func (s *MessageService) emit(ctx context.Context, chat *domain.Chat, msg *domain.Message, preview string, recipients []string) {
	if s.events == nil || len(recipients) == 0 {
		return
	}
	event := &domain.MessageEvent{
		ChatID:       chat.ID,
		ChatKind:     chat.Kind,
		MessageID:    msg.ID,
		Kind:         msg.Kind,
		Preview:      preview,
		RecipientIDs: recipients,
		CreatedAt:    msg.CreatedAt,
	}
	if msg.SenderID != nil {
		event.SenderID = *msg.SenderID
		event.SenderName = actorName(chat, *msg.SenderID)
		event.ChatLabel = chat.DisplayLabel(*msg.SenderID)
	} else {
		event.ChatLabel = chat.Label
	}
	if err := s.events.PublishMessageEvent(ctx, event); err != nil {
		observability.ChatBookkeepingFailures.WithLabelValues("event").Inc()
		observability.FromContext(ctx).Warn("failed to publish message event",
			"chat_id", chat.ID, "message_id", msg.ID, observability.Err(err))
	}
}

// Preview renders the chat list snippet for a message
func Preview(text, imageURL string) string {
	switch {
	case imageURL != "" && text != "":
		return truncate(PhotoPrefix+" "+text, MaxPreviewLength)
	case imageURL != "":
		return PhotoPreview
	default:
		return truncate(text, MaxPreviewLength)
	}
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
