package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"teamchat/internal/domain"
	"teamchat/internal/observability"
	"teamchat/internal/realtime"
)

// DefaultHistoryWindow is how many recent messages a message stream carries
const DefaultHistoryWindow = 50

// coalesceWindow batches bursts of changes into one re-query
var coalesceWindow = 20 * time.Millisecond

// ChangeSource is where live subscriptions learn that a chat was written
type ChangeSource interface {
	Subscribe(filter realtime.Filter, bufSize int) (<-chan realtime.Change, func())
}

// ReadModel serves chat lists and message windows, as snapshots or as live
// streams that re-deliver the full snapshot after every relevant change.
type ReadModel struct {
	chats    domain.ChatStore
	messages domain.MessageRepository
	changes  ChangeSource
	window   int
}

func NewReadModel(chats domain.ChatStore, messages domain.MessageRepository, changes ChangeSource, window int) *ReadModel {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &ReadModel{chats: chats, messages: messages, changes: changes, window: window}
}

// UserChats lists the chats visible to userID, most recent first
func (r *ReadModel) UserChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return r.chats.ListVisibleTo(ctx, userID)
}

// Messages returns the newest messages userID may see, oldest first
func (r *ReadModel) Messages(ctx context.Context, chatID, userID string) ([]*domain.Message, error) {
	chat, err := r.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(userID) {
		return nil, domain.ErrNotAuthorized
	}
	return r.visibleWindow(ctx, chat, userID)
}

// SubscribeToUserChats streams userID's chat list until ctx is cancelled
func (r *ReadModel) SubscribeToUserChats(ctx context.Context, userID string) (<-chan []*domain.Chat, error) {
	changes, unsubscribe := r.changes.Subscribe(realtime.ForUser(userID), 1)

	first, err := r.UserChats(ctx, userID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	load := func(ctx context.Context) ([]*domain.Chat, error) {
		return r.UserChats(ctx, userID)
	}
	return stream(ctx, "chats", changes, unsubscribe, first, load), nil
}

// SubscribeToMessages streams the message window of chatID as seen by
// userID until ctx is cancelled. userID must be a participant when subscribing.
func (r *ReadModel) SubscribeToMessages(ctx context.Context, chatID, userID string) (<-chan []*domain.Message, error) {
	filter := func(c realtime.Change) bool {
		return c.ChatID == chatID && (c.Kind == realtime.ChangeMessages || slices.Contains(c.Audience, userID))
	}
	changes, unsubscribe := r.changes.Subscribe(filter, 1)

	first, err := r.Messages(ctx, chatID, userID)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	load := func(ctx context.Context) ([]*domain.Message, error) {
		chat, err := r.chats.Get(ctx, chatID)
		if err != nil {
			return nil, err
		}
		if !chat.IsParticipant(userID) {
			return nil, domain.ErrNotAuthorized
		}
		return r.visibleWindow(ctx, chat, userID)
	}
	return stream(ctx, "messages", changes, unsubscribe, first, load), nil
}

func (r *ReadModel) visibleWindow(ctx context.Context, chat *domain.Chat, userID string) ([]*domain.Message, error) {
	var since *time.Time
	if cutoff, ok := chat.CutoffFor(userID); ok {
		since = &cutoff
	}
	return r.messages.ListRecent(ctx, chat.ID, since, r.window)
}

// stream delivers first, then a fresh snapshot after each burst of changes.
// A slow reader holds back re-queries; pending changes collapse meanwhile.
// The channel closes once load reports the caller lost access.
func stream[T any](
	ctx context.Context,
	name string,
	changes <-chan realtime.Change,
	unsubscribe func(),
	first T,
	load func(context.Context) (T, error),
) <-chan T {
	out := make(chan T, 1)
	out <- first

	gauge := observability.ChatLiveSubscriptions.WithLabelValues(name)
	gauge.Inc()

	go func() {
		defer close(out)
		defer unsubscribe()
		defer gauge.Dec()

		log := observability.FromContext(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			}

			if coalesceWindow > 0 {
				timer := time.NewTimer(coalesceWindow)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
				drain(changes)
			}

			snapshot, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Former members and removed chats get no further snapshots.
				if errors.Is(err, domain.ErrNotAuthorized) || errors.Is(err, domain.ErrNotFound) {
					log.Info("stream ended", "stream", name, observability.Err(err))
					return
				}
				log.Warn("live query failed", "stream", name, observability.Err(err))
				continue
			}

			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func drain(changes <-chan realtime.Change) {
	for {
		select {
		case <-changes:
		default:
			return
		}
	}
}
