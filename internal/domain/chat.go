package domain

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Kind classifies a chat
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
	KindTeam   Kind = "team"
)

// Valid reports whether k is a known chat kind
func (k Kind) Valid() bool {
	return k == KindDirect || k == KindGroup || k == KindTeam
}

// UserSummary is the display-safe projection of a user
type UserSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName falls back to the email when no name is set
func (u UserSummary) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}

// Chat is the aggregate root for a conversation and its per-user bookkeeping.
// ParticipantIDs and VisibleToIDs are sets; neither is required to contain the other.
type Chat struct {
	ID                   string                 `json:"id"`
	Kind                 Kind                   `json:"kind"`
	Label                string                 `json:"label"`
	BoundRosterID        *string                `json:"bound_roster_id,omitempty"`
	ParticipantIDs       []string               `json:"participant_ids"`
	VisibleToIDs         []string               `json:"visible_to_ids"`
	ParticipantSummaries map[string]UserSummary `json:"participant_summaries"`
	UnreadCounts         map[string]int         `json:"unread_counts"`
	HistoryCutoffs       map[string]time.Time   `json:"history_cutoffs,omitempty"`
	AvatarURL            string                 `json:"avatar_url,omitempty"`
	AvatarPath           string                 `json:"-"`
	LastMessagePreview   string                 `json:"last_message_preview,omitempty"`
	LastMessageAt        *time.Time             `json:"last_message_at,omitempty"`
	CreatedBy            string                 `json:"created_by"`
	CreatedAt            time.Time              `json:"created_at"`
}

// IsParticipant reports whether userID is a current member
func (c *Chat) IsParticipant(userID string) bool {
	return slices.Contains(c.ParticipantIDs, userID)
}

// IsVisibleTo reports whether the chat appears in userID's chat list
func (c *Chat) IsVisibleTo(userID string) bool {
	return slices.Contains(c.VisibleToIDs, userID)
}

// Unread returns the unread counter for userID, zero when absent
func (c *Chat) Unread(userID string) int {
	return c.UnreadCounts[userID]
}

// CutoffFor returns the history cutoff for userID, if any
func (c *Chat) CutoffFor(userID string) (time.Time, bool) {
	t, ok := c.HistoryCutoffs[userID]
	return t, ok
}

// SortTime is the instant used to order chat lists
func (c *Chat) SortTime() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// Audience is everyone who may observe a change to the chat
func (c *Chat) Audience() []string {
	out := make([]string, 0, len(c.ParticipantIDs)+len(c.VisibleToIDs))
	out = append(out, c.ParticipantIDs...)
	for _, id := range c.VisibleToIDs {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// DisplayLabel is the name shown to viewerID. Direct chats are named after
// the other participant; unnamed groups list their members.
func (c *Chat) DisplayLabel(viewerID string) string {
	if c.Label != "" && c.Kind != KindDirect {
		return c.Label
	}
	names := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id == viewerID {
			continue
		}
		if s, ok := c.ParticipantSummaries[id]; ok {
			names = append(names, s.DisplayName())
		} else {
			names = append(names, id)
		}
	}
	if len(names) == 0 {
		return c.Label
	}
	return strings.Join(names, ", ")
}

// PreviewUpdate replaces the list snippet if At is not older than the stored one
type PreviewUpdate struct {
	Text string
	At   time.Time
}

// ChatPatch is a partial update applied atomically by ChatStore.Put.
// Set operations and the unread increment commute with concurrent patches.
type ChatPatch struct {
	Label            *string
	AvatarURL        *string
	AvatarPath       *string
	Kind             *Kind
	ClearBoundRoster bool
	Preview          *PreviewUpdate

	AddParticipants    []string
	RemoveParticipants []string
	AddVisible         []string
	RemoveVisible      []string

	SetSummaries    map[string]UserSummary
	RemoveSummaries []string

	IncrementUnread []string
	SetUnread       map[string]int

	// Evaluated against the participant set stored before this patch, so
	// message bookkeeping never races a concurrent membership change.
	BumpParticipantsUnread bool
	UnreadExempt           string
	ResurfaceParticipants  bool

	SetCutoffs   map[string]time.Time
	ClearCutoffs []string
}

// IsEmpty reports whether the patch changes nothing
func (p *ChatPatch) IsEmpty() bool {
	return p == nil || (p.Label == nil && p.AvatarURL == nil && p.AvatarPath == nil &&
		p.Kind == nil && !p.ClearBoundRoster && p.Preview == nil &&
		len(p.AddParticipants) == 0 && len(p.RemoveParticipants) == 0 &&
		len(p.AddVisible) == 0 && len(p.RemoveVisible) == 0 &&
		len(p.SetSummaries) == 0 && len(p.RemoveSummaries) == 0 &&
		len(p.IncrementUnread) == 0 && len(p.SetUnread) == 0 &&
		!p.BumpParticipantsUnread && !p.ResurfaceParticipants &&
		len(p.SetCutoffs) == 0 && len(p.ClearCutoffs) == 0)
}

// ChatStore is the system of record for chats
type ChatStore interface {
	Create(ctx context.Context, chat *Chat) error
	Get(ctx context.Context, chatID string) (*Chat, error)
	GetByRoster(ctx context.Context, rosterID string) (*Chat, error)
	Put(ctx context.Context, chatID string, patch *ChatPatch) (*Chat, error)
	ListVisibleTo(ctx context.Context, userID string) ([]*Chat, error)
	ListByParticipant(ctx context.Context, userID string) ([]*Chat, error)
}
