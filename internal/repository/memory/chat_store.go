// Package memory holds mutex-guarded in-process repositories. They back
// STORE_BACKEND=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamchat/internal/domain"
)

// ChatStore implements domain.ChatStore in memory
type ChatStore struct {
	mu    sync.RWMutex
	chats map[string]*domain.Chat
	now   func() time.Time
}

// NewChatStore creates an empty store
func NewChatStore() *ChatStore {
	return &ChatStore{
		chats: make(map[string]*domain.Chat),
		now:   time.Now,
	}
}

func (s *ChatStore) Create(ctx context.Context, chat *domain.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if chat.BoundRosterID != nil {
		for _, existing := range s.chats {
			if existing.BoundRosterID != nil && *existing.BoundRosterID == *chat.BoundRosterID {
				return fmt.Errorf("roster %s already has a chat: %w", *chat.BoundRosterID, domain.ErrInvalidInput)
			}
		}
	}
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now().UTC()
	}
	if chat.UnreadCounts == nil {
		chat.UnreadCounts = make(map[string]int)
	}
	if chat.ParticipantSummaries == nil {
		chat.ParticipantSummaries = make(map[string]domain.UserSummary)
	}
	s.chats[chat.ID] = chat.Clone()
	return nil
}

func (s *ChatStore) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return chat.Clone(), nil
}

func (s *ChatStore) GetByRoster(ctx context.Context, rosterID string) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, chat := range s.chats {
		if chat.BoundRosterID != nil && *chat.BoundRosterID == rosterID {
			return chat.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

// Put applies the patch under the write lock, so concurrent patches serialize
func (s *ChatStore) Put(ctx context.Context, chatID string, patch *domain.ChatPatch) (*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, ok := s.chats[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	patch.ApplyTo(chat)
	return chat.Clone(), nil
}

func (s *ChatStore) ListVisibleTo(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return s.list(ctx, func(c *domain.Chat) bool { return c.IsVisibleTo(userID) })
}

func (s *ChatStore) ListByParticipant(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return s.list(ctx, func(c *domain.Chat) bool { return c.IsParticipant(userID) })
}

func (s *ChatStore) list(ctx context.Context, keep func(*domain.Chat) bool) ([]*domain.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Chat, 0)
	for _, chat := range s.chats {
		if keep(chat) {
			out = append(out, chat.Clone())
		}
	}
	SortChats(out)
	return out, nil
}

// SortChats orders chats newest activity first; chats without messages follow, newest first
func SortChats(chats []*domain.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if (a.LastMessageAt != nil) != (b.LastMessageAt != nil) {
			return a.LastMessageAt != nil
		}
		ta, tb := a.SortTime(), b.SortTime()
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID < b.ID
	})
}
