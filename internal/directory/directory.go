// Package directory resolves users referenced by email or id into display summaries.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync"

	"teamchat/internal/domain"
)

// UserDirectory resolves an email address or user id to a summary.
// Unknown users yield domain.ErrNotFound.
type UserDirectory interface {
	Resolve(ctx context.Context, emailOrID string) (domain.UserSummary, error)
}

// AccountDirectory resolves against the account store
type AccountDirectory struct {
	users domain.UserRepository
}

// NewAccountDirectory creates a directory over the users repository
func NewAccountDirectory(users domain.UserRepository) *AccountDirectory {
	return &AccountDirectory{users: users}
}

func (d *AccountDirectory) Resolve(ctx context.Context, emailOrID string) (domain.UserSummary, error) {
	key := strings.TrimSpace(emailOrID)
	if key == "" {
		return domain.UserSummary{}, domain.ErrNotFound
	}

	var (
		user *domain.User
		err  error
	)
	if strings.Contains(key, "@") {
		user, err = d.users.GetByEmail(ctx, key)
	} else {
		user, err = d.users.GetByID(ctx, key)
	}
	if errors.Is(err, domain.ErrUserNotFound) {
		return domain.UserSummary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.UserSummary{}, err
	}
	return user.Summary(), nil
}

// StaticDirectory is a fixed in-memory directory
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]domain.UserSummary
}

// NewStaticDirectory indexes the summaries by id and lower-cased email
func NewStaticDirectory(users ...domain.UserSummary) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]domain.UserSummary)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put adds or replaces a user
func (d *StaticDirectory) Put(u domain.UserSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	if u.Email != "" {
		d.users[strings.ToLower(u.Email)] = u
	}
}

func (d *StaticDirectory) Resolve(ctx context.Context, emailOrID string) (domain.UserSummary, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	key := strings.TrimSpace(emailOrID)
	if u, ok := d.users[key]; ok {
		return u, nil
	}
	if u, ok := d.users[strings.ToLower(key)]; ok {
		return u, nil
	}
	return domain.UserSummary{}, domain.ErrNotFound
}
