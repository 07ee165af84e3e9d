package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat/internal/domain"
)

const streamTimeout = 2 * time.Second

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(streamTimeout):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

// receiveUntil reads snapshots until one satisfies done
func receiveUntil[T any](t *testing.T, ch <-chan T, done func(T) bool) T {
	t.Helper()
	deadline := time.After(streamTimeout)
	for {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "stream closed")
			if done(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching snapshot")
		}
	}
}

func TestReadModel_Messages_WindowAndCutoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat, err := h.membership.Create(ctx, "alice", []string{"bob", "carol"}, "Crew")
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		_, err := h.msgs.Append(ctx, chat.ID, "alice", fmt.Sprintf("m%d", i), "")
		require.NoError(t, err)
	}

	all, err := h.reads.Messages(ctx, chat.ID, "bob")
	require.NoError(t, err)
	require.Len(t, all, DefaultHistoryWindow)
	assert.Equal(t, "m10", all[0].Text)
	assert.Equal(t, "m59", all[len(all)-1].Text)

	_, err = h.membership.AddParticipant(ctx, chat.ID, "alice", "dave", false)
	require.NoError(t, err)
	_, err = h.msgs.Append(ctx, chat.ID, "bob", "welcome", "")
	require.NoError(t, err)

	visible, err := h.reads.Messages(ctx, chat.ID, "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice added Dave", "welcome"}, texts(visible))

	_, err = h.reads.Messages(ctx, chat.ID, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	_, err = h.reads.Messages(ctx, "missing", "bob")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadModel_SubscribeToUserChats(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := h.reads.SubscribeToUserChats(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, receive(t, stream))

	first, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
	require.NoError(t, err)
	got := receiveUntil(t, stream, func(c []*domain.Chat) bool { return len(c) == 1 })
	assert.Equal(t, first.ID, got[0].ID)

	second, err := h.membership.Create(ctx, "carol", []string{"bob"}, "")
	require.NoError(t, err)
	_, err = h.msgs.Append(ctx, first.ID, "alice", "ping", "")
	require.NoError(t, err)

	got = receiveUntil(t, stream, func(c []*domain.Chat) bool {
		return len(c) == 2 && c[0].LastMessagePreview == "ping"
	})
	assert.Equal(t, []string{first.ID, second.ID}, []string{got[0].ID, got[1].ID})
	assert.Equal(t, 1, got[0].Unread("bob"))

	_, err = h.membership.Hide(ctx, first.ID, "bob")
	require.NoError(t, err)
	got = receiveUntil(t, stream, func(c []*domain.Chat) bool { return len(c) == 1 })
	assert.Equal(t, second.ID, got[0].ID)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-stream:
			return !ok
		default:
			return false
		}
	}, streamTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.bus.Subscribers() == 0 }, streamTimeout, 5*time.Millisecond)
}

func TestReadModel_SubscribeToMessages(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat, err := h.membership.Create(ctx, "alice", []string{"bob"}, "")
	require.NoError(t, err)
	_, err = h.msgs.Append(ctx, chat.ID, "alice", "before", "")
	require.NoError(t, err)

	_, err = h.reads.SubscribeToMessages(ctx, chat.ID, "carol")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Zero(t, h.bus.Subscribers())

	stream, err := h.reads.SubscribeToMessages(ctx, chat.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"before"}, texts(receive(t, stream)))

	_, err = h.msgs.Append(ctx, chat.ID, "bob", "after", "")
	require.NoError(t, err)
	got := receiveUntil(t, stream, func(m []*domain.Message) bool { return len(m) == 2 })
	assert.Equal(t, []string{"before", "after"}, texts(got))
}

func TestReadModel_SubscribeToMessages_EndsAfterLeave(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat, err := h.membership.Create(ctx, "alice", []string{"bob", "carol"}, "Crew")
	require.NoError(t, err)

	stream, err := h.reads.SubscribeToMessages(ctx, chat.ID, "carol")
	require.NoError(t, err)
	receive(t, stream)

	_, err = h.membership.Leave(ctx, chat.ID, "carol")
	require.NoError(t, err)
	_, err = h.msgs.Append(ctx, chat.ID, "alice", "sent after carol left", "")
	require.NoError(t, err)

	deadline := time.After(streamTimeout)
	for {
		select {
		case snapshot, ok := <-stream:
			if !ok {
				assert.Eventually(t, func() bool { return h.bus.Subscribers() == 0 }, streamTimeout, 10*time.Millisecond)
				return
			}
			assert.NotContains(t, texts(snapshot), "sent after carol left")
		case <-deadline:
			t.Fatal("stream not closed after leaving")
		}
	}
}

func TestReadModel_SubscriptionClosesOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := h.reads.SubscribeToUserChats(ctx, "alice")
	require.NoError(t, err)
	receive(t, stream)
	cancel()

	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(streamTimeout):
		t.Fatal("stream not closed after cancel")
	}
}
