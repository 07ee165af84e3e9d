package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamchat/internal/domain"
)

// UserRepository implements domain.UserRepository in memory
type UserRepository struct {
	mu    sync.RWMutex
	byID  map[string]*domain.User
	email map[string]string
}

// NewUserRepository creates an empty repository
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:  make(map[string]*domain.User),
		email: make(map[string]string),
	}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, taken := r.email[key]; taken {
		return domain.ErrEmailExists
	}
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now().UTC()

	stored := *user
	r.byID[user.ID] = &stored
	r.email[key] = user.ID
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.email[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name, avatarURL string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	user.Name = name
	user.AvatarURL = avatarURL
	cp := *user
	return &cp, nil
}
