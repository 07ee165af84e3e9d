package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamchat/internal/domain"
)

// MessageRepository implements domain.MessageRepository in memory
type MessageRepository struct {
	mu     sync.RWMutex
	byChat map[string][]*domain.Message
	now    func() time.Time
}

// NewMessageRepository creates an empty repository
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{
		byChat: make(map[string][]*domain.Message),
		now:    time.Now,
	}
}

// Create stamps the message with a time no earlier than the chat's latest message
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	message.ID = uuid.New().String()
	at := r.now().UTC()
	if existing := r.byChat[message.ChatID]; len(existing) > 0 {
		if last := existing[len(existing)-1].CreatedAt; at.Before(last) {
			at = last
		}
	}
	message.CreatedAt = at

	stored := *message
	r.byChat[message.ChatID] = append(r.byChat[message.ChatID], &stored)
	return nil
}

func (r *MessageRepository) ListRecent(ctx context.Context, chatID string, since *time.Time, limit int) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.byChat[chatID]
	start := 0
	if since != nil {
		for start < len(all) && all[start].CreatedAt.Before(*since) {
			start++
		}
	}
	window := all[start:]
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}

	out := make([]*domain.Message, len(window))
	for i, m := range window {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}
