package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamchat/internal/domain"
)

// SessionRepository implements domain.SessionRepository in memory
type SessionRepository struct {
	mu      sync.Mutex
	byToken map[string]*domain.Session
}

// NewSessionRepository creates an empty repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{byToken: make(map[string]*domain.Session)}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session.ID = uuid.New().String()
	session.CreatedAt = time.Now().UTC()
	stored := *session
	r.byToken[session.Token] = &stored
	return nil
}

// GetByToken returns only unexpired sessions
func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.byToken[token]
	if !ok || !session.ExpiresAt.After(time.Now()) {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byToken[token]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(r.byToken, token)
	return nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	now := time.Now()
	for token, session := range r.byToken {
		if !session.ExpiresAt.After(now) {
			delete(r.byToken, token)
			n++
		}
	}
	return n, nil
}
