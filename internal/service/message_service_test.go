package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat/internal/domain"
)

func TestMessageService_Append_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
	require.NoError(t, err)

	tests := []struct {
		name        string
		chatID      string
		senderID    string
		text        string
		imageURL    string
		expectedErr error
	}{
		{"empty_before_missing_chat", "missing", "alice", "  ", "", domain.ErrEmptyMessage},
		{"missing_chat", "missing", "alice", "hi", "", domain.ErrNotFound},
		{"not_a_participant", chat.ID, "carol", "hi", "", domain.ErrNotAuthorized},
		{"non_member_with_long_text", chat.ID, "carol", strings.Repeat("a", MaxMessageLength+1), "", domain.ErrNotAuthorized},
		{"too_long", chat.ID, "alice", strings.Repeat("é", MaxMessageLength+1), "", domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.msgs.Append(ctx, tt.chatID, tt.senderID, tt.text, tt.imageURL)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}

	assert.Empty(t, h.history(t, chat.ID))
	msg, err := h.msgs.Append(ctx, chat.ID, "alice", strings.Repeat("é", MaxMessageLength), "")
	require.NoError(t, err)
	assert.Equal(t, domain.MessageText, msg.Kind)
}

func TestMessageService_Append_Bookkeeping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.membership.Create(ctx, "alice", []string{"bob", "carol"}, "Crew")
	require.NoError(t, err)
	_, err = h.membership.Hide(ctx, chat.ID, "carol")
	require.NoError(t, err)

	msg, err := h.msgs.Append(ctx, chat.ID, "alice", "  hello  ", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Text)
	require.NotNil(t, msg.SenderID)
	assert.Equal(t, "alice", *msg.SenderID)

	after := h.chat(t, chat.ID)
	assert.Equal(t, 0, after.Unread("alice"))
	assert.Equal(t, 1, after.Unread("bob"))
	assert.Equal(t, 1, after.Unread("carol"))
	assert.True(t, after.IsVisibleTo("carol"))
	assert.Equal(t, "hello", after.LastMessagePreview)
	require.NotNil(t, after.LastMessageAt)
	assert.Equal(t, msg.CreatedAt, *after.LastMessageAt)

	events := h.events.Published()
	require.Len(t, events, 1)
	assert.Equal(t, "Alice", events[0].SenderName)
	assert.Equal(t, "Crew", events[0].ChatLabel)
	assert.ElementsMatch(t, []string{"bob", "carol"}, events[0].RecipientIDs)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("x", 200)
	tests := []struct {
		name     string
		text     string
		imageURL string
		expected string
	}{
		{"text", "hello", "", "hello"},
		{"image_only", "", "https://cdn.test/p.png", "📷 Photo"},
		{"image_with_caption", "look", "https://cdn.test/p.png", "📷 look"},
		{"truncated", long, "", strings.Repeat("x", MaxPreviewLength-1) + "…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Preview(tt.text, tt.imageURL))
		})
	}
}

func TestMessageService_AppendSystem(t *testing.T) {
	t.Run("default_leaves_unread_and_visibility", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
		require.NoError(t, err)
		_, err = h.membership.Hide(ctx, chat.ID, "bob")
		require.NoError(t, err)

		msg, err := h.msgs.AppendSystem(ctx, chat.ID, "Fixture moved to 10am")
		require.NoError(t, err)
		assert.Equal(t, domain.MessageSystem, msg.Kind)
		assert.Nil(t, msg.SenderID)

		after := h.chat(t, chat.ID)
		assert.Equal(t, "Fixture moved to 10am", after.LastMessagePreview)
		assert.Equal(t, 0, after.Unread("alice"))
		assert.Equal(t, 0, after.Unread("bob"))
		assert.False(t, after.IsVisibleTo("bob"))
		assert.Empty(t, h.events.Published())
	})

	t.Run("configured_to_affect_unread", func(t *testing.T) {
		h := newHarness(t, withSystemUnread())
		ctx := context.Background()
		chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
		require.NoError(t, err)
		_, err = h.membership.Hide(ctx, chat.ID, "bob")
		require.NoError(t, err)

		_, err = h.msgs.AppendSystem(ctx, chat.ID, "Fixture moved to 10am")
		require.NoError(t, err)

		after := h.chat(t, chat.ID)
		assert.Equal(t, 1, after.Unread("alice"))
		assert.Equal(t, 1, after.Unread("bob"))
		assert.True(t, after.IsVisibleTo("bob"))
		assert.Len(t, h.events.Published(), 1)
	})

	t.Run("errors", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.msgs.AppendSystem(context.Background(), "missing", "x")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = h.msgs.AppendSystem(context.Background(), "missing", " ")
		assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	})
}

func TestMessageService_MarkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
	require.NoError(t, err)
	_, err = h.msgs.Append(ctx, chat.ID, "alice", "one", "")
	require.NoError(t, err)
	_, err = h.msgs.Append(ctx, chat.ID, "alice", "two", "")
	require.NoError(t, err)
	assert.Equal(t, 2, h.chat(t, chat.ID).Unread("bob"))

	updated, err := h.msgs.MarkRead(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Unread("bob"))

	_, err = h.msgs.MarkRead(ctx, "missing", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// putFailingStore stores messages fine but cannot patch chats
type putFailingStore struct {
	domain.ChatStore
}

func (putFailingStore) Put(ctx context.Context, chatID string, patch *domain.ChatPatch) (*domain.Chat, error) {
	return nil, errors.New("patch rejected")
}

func TestMessageService_BookkeepingFailureStillDelivers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
	require.NoError(t, err)

	svc := NewMessageService(putFailingStore{h.store}, h.messages, h.changes, h.events, false)
	msg, err := svc.Append(ctx, chat.ID, "alice", "still here", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"still here"}, texts(h.history(t, chat.ID)))
	assert.Equal(t, 0, h.chat(t, chat.ID).Unread("bob"))

	events := h.events.Published()
	require.Len(t, events, 1)
	assert.Equal(t, msg.ID, events[0].MessageID)

	// the next successful append heals the counters
	_, err = h.msgs.Append(ctx, chat.ID, "alice", "again", "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.chat(t, chat.ID).Unread("bob"))
}

func TestMessageService_EventFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
	require.NoError(t, err)

	h.events.PublishFunc = func(context.Context, *domain.MessageEvent) error { return errors.New("broker down") }
	_, err = h.msgs.Append(ctx, chat.ID, "alice", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, 1, h.chat(t, chat.ID).Unread("bob"))
}
