package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"teamchat/internal/domain"
)

const pqForeignKeyViolation = "23503"

// MessageRepository implements domain.MessageRepository for PostgreSQL
type MessageRepository struct {
	db *sql.DB
	tx *TxManager
}

// NewMessageRepository creates a new PostgreSQL message repository
func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db, tx: NewTxManager(db)}
}

// Create inserts a message. A per-chat advisory lock serializes writers so
// created_at never goes backwards within a chat even across server clocks.
func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	defer observeQuery("insert", "messages", time.Now())

	return r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, message.ChatID); err != nil {
			return classify("lock chat stream", err)
		}

		query := `
			INSERT INTO messages (chat_id, kind, sender_id, text, image_url, created_at)
			VALUES ($1, $2, $3, $4, $5, GREATEST(clock_timestamp(),
				COALESCE((SELECT max(created_at) FROM messages WHERE chat_id = $1), '-infinity'::timestamptz)))
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query,
			message.ChatID,
			string(message.Kind),
			message.SenderID,
			message.Text,
			message.ImageURL,
		).Scan(&message.ID, &message.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation {
				return domain.ErrNotFound
			}
			return classify("create message", err)
		}
		return nil
	})
}

// ListRecent returns the newest messages of a chat, oldest first
func (r *MessageRepository) ListRecent(ctx context.Context, chatID string, since *time.Time, limit int) ([]*domain.Message, error) {
	defer observeQuery("select", "messages", time.Now())

	query := `
		SELECT id, chat_id, kind, sender_id, text, image_url, created_at
		FROM messages
		WHERE chat_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2::timestamptz)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`
	var cutoff sql.NullTime
	if since != nil {
		cutoff = sql.NullTime{Time: *since, Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, query, chatID, cutoff, limit)
	if err != nil {
		return nil, classify("query messages", err)
	}
	defer rows.Close()

	messages := make([]*domain.Message, 0, limit)
	for rows.Next() {
		var (
			msg    domain.Message
			kind   string
			sender sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &kind, &sender, &msg.Text, &msg.ImageURL, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Kind = domain.MessageKind(kind)
		if sender.Valid {
			msg.SenderID = &sender.String
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("iterate messages", err)
	}

	// Reverse the slice to get oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
