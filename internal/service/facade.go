package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"teamchat/internal/domain"
	"teamchat/internal/observability"
	"teamchat/internal/storage"
)

// RetryPolicy bounds the retries of operations that hit an unavailable store
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is four attempts starting at 100ms
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}

// ChatFacade is the entry point for the API and other domains. It owns the
// policy checks and retries; the services below it perform mutations as asked.
type ChatFacade struct {
	chats      domain.ChatStore
	membership *MembershipService
	messages   *MessageService
	reads      *ReadModel
	blobs      storage.BlobStore
	retry      RetryPolicy
}

func NewChatFacade(
	chats domain.ChatStore,
	membership *MembershipService,
	messages *MessageService,
	reads *ReadModel,
	blobs storage.BlobStore,
	retry RetryPolicy,
) *ChatFacade {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &ChatFacade{
		chats:      chats,
		membership: membership,
		messages:   messages,
		reads:      reads,
		blobs:      blobs,
		retry:      retry,
	}
}

// CreateDirectOrGroupChat opens a chat between creatorID and the recipients
// and records its creation in the chat.
func (f *ChatFacade) CreateDirectOrGroupChat(ctx context.Context, creatorID string, recipients []string, label string) (*domain.Chat, error) {
	chat, err := withRetry(ctx, f.retry, "create_chat", func() (*domain.Chat, error) {
		return f.membership.Create(ctx, creatorID, recipients, label)
	})
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("%s created the chat", actorName(chat, creatorID))
	if chat.Kind == domain.KindGroup && chat.Label != "" {
		text = fmt.Sprintf("%s created the group %q", actorName(chat, creatorID), chat.Label)
	}
	f.systemNote(ctx, chat.ID, text)
	return chat, nil
}

// CreateBoundTeamChat opens, or returns the existing, chat bound to rosterID
func (f *ChatFacade) CreateBoundTeamChat(ctx context.Context, rosterID, label string, memberIDs []string) (*domain.Chat, error) {
	return withRetry(ctx, f.retry, "create_team", func() (*domain.Chat, error) {
		return f.membership.CreateTeam(ctx, rosterID, label, memberIDs)
	})
}

// CreateTeamAs is the user-facing CreateBoundTeamChat. The actor joins a new
// chat; an existing chat for the roster is only returned to its members.
func (f *ChatFacade) CreateTeamAs(ctx context.Context, actorID, rosterID, label string, memberIDs []string) (*domain.Chat, error) {
	chat, err := f.CreateBoundTeamChat(ctx, rosterID, label, lo.Uniq(append([]string{actorID}, memberIDs...)))
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(actorID) {
		return nil, domain.ErrNotAuthorized
	}
	return chat, nil
}

// TeamChatForRoster finds the chat bound to rosterID
func (f *ChatFacade) TeamChatForRoster(ctx context.Context, rosterID string) (*domain.Chat, error) {
	return withRetry(ctx, f.retry, "get_team", func() (*domain.Chat, error) {
		return f.chats.GetByRoster(ctx, rosterID)
	})
}

func (f *ChatFacade) SendMessage(ctx context.Context, chatID, senderID, text, imageURL string) (*domain.Message, error) {
	return withRetry(ctx, f.retry, "append", func() (*domain.Message, error) {
		return f.messages.Append(ctx, chatID, senderID, text, imageURL)
	})
}

// SendImageMessage uploads the image and appends it with an optional caption
func (f *ChatFacade) SendImageMessage(ctx context.Context, chatID, senderID, caption string, data []byte) (*domain.Message, error) {
	if _, err := f.requireParticipant(ctx, chatID, senderID); err != nil {
		return nil, err
	}
	blobPath, err := storage.ImagePath("chats/"+chatID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	url, err := f.blobs.Upload(ctx, data, blobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	msg, err := f.SendMessage(ctx, chatID, senderID, caption, url)
	if err != nil {
		f.deleteBlob(ctx, blobPath)
		return nil, err
	}
	return msg, nil
}

// SendSystemNote appends an audit line. An empty actorID marks a trusted
// caller; otherwise the actor must be a participant.
func (f *ChatFacade) SendSystemNote(ctx context.Context, chatID, actorID, text string) (*domain.Message, error) {
	if actorID != "" {
		if _, err := f.requireParticipant(ctx, chatID, actorID); err != nil {
			return nil, err
		}
	}
	return withRetry(ctx, f.retry, "append_system", func() (*domain.Message, error) {
		return f.messages.AppendSystem(ctx, chatID, text)
	})
}

func (f *ChatFacade) MarkRead(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	if _, err := f.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return withRetry(ctx, f.retry, "mark_read", func() (*domain.Chat, error) {
		return f.messages.MarkRead(ctx, chatID, userID)
	})
}

// AddParticipant adds a user on behalf of actorID, who must be a member.
// An empty actorID is the roster sync path. Existing members yield the chat
// with domain.ErrAlreadyMember.
func (f *ChatFacade) AddParticipant(ctx context.Context, chatID, actorID, emailOrID string, includeHistory bool) (*domain.Chat, error) {
	if actorID != "" {
		chat, err := f.requireParticipant(ctx, chatID, actorID)
		if err != nil {
			return nil, err
		}
		if chat.Kind == domain.KindDirect {
			return nil, fmt.Errorf("direct chats cannot gain members: %w", domain.ErrInvalidInput)
		}
	}
	return withRetry(ctx, f.retry, "add", func() (*domain.Chat, error) {
		return f.membership.AddParticipant(ctx, chatID, actorID, emailOrID, includeHistory)
	})
}

// LeaveChat is the user-initiated leave. Team chats follow their roster and
// direct chats can only be hidden.
func (f *ChatFacade) LeaveChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := f.requireParticipant(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	switch chat.Kind {
	case domain.KindTeam:
		return nil, domain.ErrTeamLeaveForbidden
	case domain.KindDirect:
		return nil, fmt.Errorf("direct chats can be hidden, not left: %w", domain.ErrInvalidInput)
	}
	return f.leave(ctx, chatID, userID)
}

// LeaveBoundTeam removes a member from a team chat after the roster dropped them
func (f *ChatFacade) LeaveBoundTeam(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	return f.leave(ctx, chatID, userID)
}

func (f *ChatFacade) leave(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	return withRetry(ctx, f.retry, "leave", func() (*domain.Chat, error) {
		return f.membership.Leave(ctx, chatID, userID)
	})
}

// HideChat drops the chat from userID's list. Only members, or users still
// seeing the chat, may hide it.
func (f *ChatFacade) HideChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := f.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) && !chat.IsVisibleTo(userID) {
		return nil, domain.ErrNotAuthorized
	}
	return withRetry(ctx, f.retry, "hide", func() (*domain.Chat, error) {
		return f.membership.Hide(ctx, chatID, userID)
	})
}

func (f *ChatFacade) RenameChat(ctx context.Context, chatID, actorID, label string) (*domain.Chat, error) {
	if err := f.requireGroupMember(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	return withRetry(ctx, f.retry, "rename", func() (*domain.Chat, error) {
		return f.membership.Rename(ctx, chatID, actorID, label)
	})
}

// UpdateGroupPhoto uploads a new avatar, points the chat at it and then
// deletes the previous one. Failing to delete the old blob is only logged.
func (f *ChatFacade) UpdateGroupPhoto(ctx context.Context, chatID, actorID string, data []byte) (*domain.Chat, error) {
	if err := f.requireGroupMember(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	blobPath, err := storage.ImagePath("avatars/"+chatID, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	url, err := f.blobs.Upload(ctx, data, blobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to upload photo: %w", err)
	}

	var previous string
	chat, err := withRetry(ctx, f.retry, "avatar", func() (*domain.Chat, error) {
		updated, prev, err := f.membership.UpdateAvatar(ctx, chatID, actorID, url, blobPath)
		previous = prev
		return updated, err
	})
	if err != nil {
		f.deleteBlob(ctx, blobPath)
		return nil, err
	}
	if previous != "" && previous != blobPath {
		f.deleteBlob(ctx, previous)
	}
	return chat, nil
}

// UnbindFromRoster detaches a team chat after its roster is disbanded
func (f *ChatFacade) UnbindFromRoster(ctx context.Context, chatID string) (*domain.Chat, error) {
	return withRetry(ctx, f.retry, "unbind", func() (*domain.Chat, error) {
		return f.membership.UnbindFromRoster(ctx, chatID)
	})
}

// UnbindAs lets a member turn a team chat into a plain group
func (f *ChatFacade) UnbindAs(ctx context.Context, chatID, actorID string) (*domain.Chat, error) {
	if _, err := f.requireParticipant(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	return f.UnbindFromRoster(ctx, chatID)
}

// RefreshUserSummary propagates a profile edit to every chat the user is in
func (f *ChatFacade) RefreshUserSummary(ctx context.Context, user domain.UserSummary) (int, error) {
	return withRetry(ctx, f.retry, "refresh_summary", func() (int, error) {
		return f.membership.RefreshSummary(ctx, user)
	})
}

// Chat returns one chat to a participant
func (f *ChatFacade) Chat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	return f.requireParticipant(ctx, chatID, userID)
}

func (f *ChatFacade) UserChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return withRetry(ctx, f.retry, "list_chats", func() ([]*domain.Chat, error) {
		return f.reads.UserChats(ctx, userID)
	})
}

func (f *ChatFacade) Messages(ctx context.Context, chatID, userID string) ([]*domain.Message, error) {
	return withRetry(ctx, f.retry, "list_messages", func() ([]*domain.Message, error) {
		return f.reads.Messages(ctx, chatID, userID)
	})
}

func (f *ChatFacade) SubscribeToUserChats(ctx context.Context, userID string) (<-chan []*domain.Chat, error) {
	return withRetry(ctx, f.retry, "subscribe_chats", func() (<-chan []*domain.Chat, error) {
		return f.reads.SubscribeToUserChats(ctx, userID)
	})
}

func (f *ChatFacade) SubscribeToMessages(ctx context.Context, chatID, userID string) (<-chan []*domain.Message, error) {
	return withRetry(ctx, f.retry, "subscribe_messages", func() (<-chan []*domain.Message, error) {
		return f.reads.SubscribeToMessages(ctx, chatID, userID)
	})
}

func (f *ChatFacade) getChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	return withRetry(ctx, f.retry, "get_chat", func() (*domain.Chat, error) {
		return f.chats.Get(ctx, chatID)
	})
}

func (f *ChatFacade) requireParticipant(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := f.getChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) {
		return nil, domain.ErrNotAuthorized
	}
	return chat, nil
}

func (f *ChatFacade) requireGroupMember(ctx context.Context, chatID, actorID string) error {
	chat, err := f.requireParticipant(ctx, chatID, actorID)
	if err != nil {
		return err
	}
	if chat.Kind == domain.KindDirect {
		return fmt.Errorf("direct chats have no label or photo: %w", domain.ErrInvalidInput)
	}
	return nil
}

func (f *ChatFacade) systemNote(ctx context.Context, chatID, text string) {
	_, err := withRetry(ctx, f.retry, "append_system", func() (*domain.Message, error) {
		return f.messages.AppendSystem(ctx, chatID, text)
	})
	if err != nil {
		observability.ChatBookkeepingFailures.WithLabelValues("system_note").Inc()
		observability.FromContext(ctx).Warn("failed to append system note",
			"chat_id", chatID, observability.Err(err))
	}
}

func (f *ChatFacade) deleteBlob(ctx context.Context, blobPath string) {
	if err := f.blobs.Delete(ctx, blobPath); err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		observability.FromContext(ctx).Warn("failed to delete blob",
			"path", blobPath, observability.Err(err))
	}
}

// withRetry retries fn while it fails with domain.ErrUnavailable, backing
// off exponentially from the policy's base delay. Other errors return at once
// together with fn's result.
func withRetry[T any](ctx context.Context, policy RetryPolicy, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryWithData(func() (T, error) {
		attempt++
		if attempt > 1 {
			observability.ChatStoreRetries.WithLabelValues(op).Inc()
		}
		v, err := fn()
		if err != nil && !errors.Is(err, domain.ErrUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1)), ctx))
}
