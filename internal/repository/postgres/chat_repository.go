package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/samber/lo"

	"teamchat/internal/domain"
	"teamchat/internal/observability"
)

const chatColumns = `id, kind, label, bound_roster_id, participant_ids, visible_to_ids,
	participant_summaries, unread_counts, history_cutoffs, avatar_url, avatar_path,
	last_message_preview, last_message_at, created_by, created_at`

// ChatRepository implements domain.ChatStore for PostgreSQL.
// Set-valued fields live in TEXT[] columns and per-user maps in JSONB, so
// every patch is one UPDATE built from array and jsonb operators.
type ChatRepository struct {
	db *sql.DB
}

// NewChatRepository creates a new PostgreSQL chat repository
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create inserts a chat; ID and CreatedAt are assigned by the database when empty
func (r *ChatRepository) Create(ctx context.Context, chat *domain.Chat) error {
	defer observeQuery("insert", "chats", time.Now())

	summaries, err := json.Marshal(nonNilMap(chat.ParticipantSummaries))
	if err != nil {
		return fmt.Errorf("failed to encode summaries: %w", err)
	}
	unread, err := json.Marshal(nonNilMap(chat.UnreadCounts))
	if err != nil {
		return fmt.Errorf("failed to encode unread counts: %w", err)
	}
	cutoffs, err := json.Marshal(nonNilMap(chat.HistoryCutoffs))
	if err != nil {
		return fmt.Errorf("failed to encode cutoffs: %w", err)
	}

	query := `
		INSERT INTO chats (id, kind, label, bound_roster_id, participant_ids, visible_to_ids,
			participant_summaries, unread_counts, history_cutoffs, avatar_url, avatar_path, created_by)
		VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		chat.ID,
		string(chat.Kind),
		chat.Label,
		chat.BoundRosterID,
		pq.Array(lo.Uniq(chat.ParticipantIDs)),
		pq.Array(lo.Uniq(chat.VisibleToIDs)),
		summaries,
		unread,
		cutoffs,
		chat.AvatarURL,
		chat.AvatarPath,
		chat.CreatedBy,
	).Scan(&chat.ID, &chat.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err, "chats_bound_roster_id_key") {
			return fmt.Errorf("roster %s already has a chat: %w", lo.FromPtr(chat.BoundRosterID), domain.ErrInvalidInput)
		}
		return classify("create chat", err)
	}
	return nil
}

// Get retrieves a chat by ID
func (r *ChatRepository) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	defer observeQuery("select", "chats", time.Now())

	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, chatID))
	if err != nil {
		return nil, classify("get chat", err)
	}
	return chat, nil
}

// GetByRoster retrieves the chat bound to a roster
func (r *ChatRepository) GetByRoster(ctx context.Context, rosterID string) (*domain.Chat, error) {
	defer observeQuery("select", "chats", time.Now())

	query := `SELECT ` + chatColumns + ` FROM chats WHERE bound_roster_id = $1`
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, rosterID))
	if err != nil {
		return nil, classify("get chat by roster", err)
	}
	return chat, nil
}

// Put applies the patch in a single statement and returns the updated row
func (r *ChatRepository) Put(ctx context.Context, chatID string, patch *domain.ChatPatch) (*domain.Chat, error) {
	if patch.IsEmpty() {
		return r.Get(ctx, chatID)
	}
	defer observeQuery("update", "chats", time.Now())

	query, args, err := buildPatchQuery(chatID, patch)
	if err != nil {
		return nil, err
	}
	chat, err := scanChat(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, classify("put chat", err)
	}
	return chat, nil
}

// ListVisibleTo returns the chats in a user's list, most recent activity first
func (r *ChatRepository) ListVisibleTo(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return r.list(ctx, "visible_to_ids", userID)
}

// ListByParticipant returns every chat the user is a member of
func (r *ChatRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Chat, error) {
	return r.list(ctx, "participant_ids", userID)
}

func (r *ChatRepository) list(ctx context.Context, column, userID string) ([]*domain.Chat, error) {
	defer observeQuery("select", "chats", time.Now())

	query := `SELECT ` + chatColumns + ` FROM chats
		WHERE ` + column + ` @> ARRAY[$1]::text[]
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, classify("list chats", err)
	}
	defer rows.Close()

	chats := make([]*domain.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, classify("scan chat", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate chats", err)
	}
	return chats, nil
}

// patchQuery accumulates SET clauses and their positional arguments
type patchQuery struct {
	sets []string
	args []any
}

func (q *patchQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *patchQuery) set(column, expr string) {
	q.sets = append(q.sets, column+" = "+expr)
}

// setUpdate rewrites a TEXT[] column as (column EXCEPT remove) UNION add,
// optionally also adding the stored participant set
func (q *patchQuery) setUpdate(column string, add, remove []string, withParticipants bool) {
	if len(add) == 0 && len(remove) == 0 && !withParticipants {
		return
	}
	expr := fmt.Sprintf(
		"SELECT u FROM unnest(%s) AS u WHERE u <> ALL(%s::text[]) UNION SELECT unnest(%s::text[])",
		column, q.arg(pq.Array(nonNilSlice(remove))), q.arg(pq.Array(nonNilSlice(add))),
	)
	if withParticipants {
		expr += " UNION SELECT unnest(participant_ids)"
	}
	q.set(column, "ARRAY("+expr+")")
}

// mapUpdate rewrites a JSONB column as (column - remove) || set
func (q *patchQuery) mapUpdate(column string, set any, setLen int, remove []string) error {
	if setLen == 0 && len(remove) == 0 {
		return nil
	}
	encoded, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", column, err)
	}
	q.set(column, fmt.Sprintf("(%s - %s::text[]) || %s::jsonb",
		column, q.arg(pq.Array(nonNilSlice(remove))), q.arg(encoded)))
	return nil
}

func buildPatchQuery(chatID string, p *domain.ChatPatch) (string, []any, error) {
	q := &patchQuery{}

	if p.Label != nil {
		q.set("label", q.arg(*p.Label))
	}
	if p.AvatarURL != nil {
		q.set("avatar_url", q.arg(*p.AvatarURL))
	}
	if p.AvatarPath != nil {
		q.set("avatar_path", q.arg(*p.AvatarPath))
	}
	if p.Kind != nil {
		q.set("kind", q.arg(string(*p.Kind)))
	}
	if p.ClearBoundRoster {
		q.set("bound_roster_id", "NULL")
	}
	if p.Preview != nil {
		at := q.arg(p.Preview.At)
		newer := fmt.Sprintf("last_message_at IS NULL OR last_message_at <= %s::timestamptz", at)
		q.set("last_message_preview", fmt.Sprintf("CASE WHEN %s THEN %s ELSE last_message_preview END", newer, q.arg(p.Preview.Text)))
		q.set("last_message_at", fmt.Sprintf("CASE WHEN %s THEN %s::timestamptz ELSE last_message_at END", newer, at))
	}

	q.setUpdate("participant_ids", p.AddParticipants, p.RemoveParticipants, false)
	q.setUpdate("visible_to_ids", p.AddVisible, p.RemoveVisible, p.ResurfaceParticipants)

	if err := q.mapUpdate("participant_summaries", nonNilMap(p.SetSummaries), len(p.SetSummaries), p.RemoveSummaries); err != nil {
		return "", nil, err
	}
	if err := q.mapUpdate("history_cutoffs", nonNilMap(p.SetCutoffs), len(p.SetCutoffs), p.ClearCutoffs); err != nil {
		return "", nil, err
	}

	if len(p.SetUnread) > 0 || len(p.IncrementUnread) > 0 || p.BumpParticipantsUnread {
		encoded, err := json.Marshal(nonNilMap(p.SetUnread))
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode unread_counts: %w", err)
		}
		base := fmt.Sprintf("(unread_counts || %s::jsonb)", q.arg(encoded))
		expr := base
		if inc := lo.Uniq(p.IncrementUnread); len(inc) > 0 || p.BumpParticipantsUnread {
			keys := fmt.Sprintf("SELECT unnest(%s::text[])", q.arg(pq.Array(nonNilSlice(inc))))
			if p.BumpParticipantsUnread {
				keys += fmt.Sprintf(" UNION SELECT p FROM unnest(participant_ids) AS p WHERE p <> %s", q.arg(p.UnreadExempt))
			}
			expr = fmt.Sprintf(
				"%s || COALESCE((SELECT jsonb_object_agg(k, COALESCE((%s ->> k)::int, 0) + 1) FROM (%s) AS t(k)), '{}'::jsonb)",
				base, base, keys,
			)
		}
		q.set("unread_counts", expr)
	}

	query := fmt.Sprintf("UPDATE chats SET %s WHERE id = %s RETURNING %s",
		strings.Join(q.sets, ", "), q.arg(chatID), chatColumns)
	return query, q.args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*domain.Chat, error) {
	var (
		chat                      domain.Chat
		kind                      string
		roster                    sql.NullString
		lastAt                    sql.NullTime
		summaries, unread, cutoff []byte
	)
	err := row.Scan(
		&chat.ID,
		&kind,
		&chat.Label,
		&roster,
		pq.Array(&chat.ParticipantIDs),
		pq.Array(&chat.VisibleToIDs),
		&summaries,
		&unread,
		&cutoff,
		&chat.AvatarURL,
		&chat.AvatarPath,
		&chat.LastMessagePreview,
		&lastAt,
		&chat.CreatedBy,
		&chat.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	chat.Kind = domain.Kind(kind)
	if roster.Valid {
		chat.BoundRosterID = &roster.String
	}
	if lastAt.Valid {
		chat.LastMessageAt = &lastAt.Time
	}
	if err := unmarshalField(summaries, &chat.ParticipantSummaries); err != nil {
		return nil, err
	}
	if err := unmarshalField(unread, &chat.UnreadCounts); err != nil {
		return nil, err
	}
	if err := unmarshalField(cutoff, &chat.HistoryCutoffs); err != nil {
		return nil, err
	}
	if chat.ParticipantIDs == nil {
		chat.ParticipantIDs = []string{}
	}
	if chat.VisibleToIDs == nil {
		chat.VisibleToIDs = []string{}
	}
	return &chat, nil
}

func unmarshalField[T any](raw []byte, dest *T) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to decode chat column: %w", err)
	}
	return nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

func observeQuery(operation, table string, start time.Time) {
	observability.DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}
