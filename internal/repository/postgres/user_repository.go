package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"teamchat/internal/domain"
)

// UserRepository implements domain.UserRepository for PostgreSQL
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new PostgreSQL user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user. Emails are stored lower-cased so the unique
// constraint is case-insensitive.
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (name, email, avatar_url, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	user.Email = strings.ToLower(user.Email)
	err := r.db.QueryRowContext(ctx, query,
		user.Name,
		user.Email,
		user.AvatarURL,
		user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)

	if IsUniqueViolation(err, "users_email_key") {
		return domain.ErrEmailExists
	}
	return classify("create user", err)
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `
		SELECT id, name, email, avatar_url, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id)
}

// GetByEmail retrieves a user by email, ignoring case
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `
		SELECT id, name, email, avatar_url, password_hash, created_at
		FROM users
		WHERE email = $1
	`, strings.ToLower(email))
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name, avatarURL string) (*domain.User, error) {
	return r.getOne(ctx, `
		UPDATE users
		SET name = $2, avatar_url = $3
		WHERE id = $1
		RETURNING id, name, email, avatar_url, password_hash, created_at
	`, id, name, avatarURL)
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*domain.User, error) {
	user := &domain.User{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.AvatarURL,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, classify("get user", err)
	}
	return user, nil
}
