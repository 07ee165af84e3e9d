package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"teamchat/internal/directory"
	"teamchat/internal/domain"
	"teamchat/internal/observability"
	"teamchat/internal/realtime"
)

// MaxLabelLength bounds chat labels in runes
const MaxLabelLength = 100

// SystemNoter appends audit lines to a chat
type SystemNoter interface {
	AppendSystem(ctx context.Context, chatID, text string) (*domain.Message, error)
}

// MembershipService changes who belongs to a chat and who sees it.
// Every mutation commits before its system note is appended; a failed note
// is logged and never reported as a failed mutation.
type MembershipService struct {
	chats     domain.ChatStore
	directory directory.UserDirectory
	notes     SystemNoter
	changes   realtime.Publisher
	now       func() time.Time
}

func NewMembershipService(
	chats domain.ChatStore,
	dir directory.UserDirectory,
	notes SystemNoter,
	changes realtime.Publisher,
) *MembershipService {
	return &MembershipService{
		chats:     chats,
		directory: dir,
		notes:     notes,
		changes:   changes,
		now:       time.Now,
	}
}

// Create opens a direct chat (two participants) or a group chat. Recipients
// that do not resolve are skipped.
func (s *MembershipService) Create(ctx context.Context, creatorID string, recipients []string, label string) (*domain.Chat, error) {
	creator, err := s.directory.Resolve(ctx, creatorID)
	if err != nil {
		return nil, fmt.Errorf("resolve creator: %w", err)
	}

	members, err := s.resolveAll(ctx, recipients)
	if err != nil {
		return nil, err
	}
	members = lo.Filter(members, func(u domain.UserSummary, _ int) bool { return u.ID != creator.ID })
	if len(members) == 0 {
		recordOp("create", observability.ResultError)
		return nil, domain.ErrNoValidRecipients
	}

	label, err = normalizeLabel(label, true)
	if err != nil {
		return nil, err
	}

	kind := domain.KindGroup
	if len(members) == 1 {
		kind = domain.KindDirect
		label = ""
	}

	chat := newChat(kind, label, creator.ID, append([]domain.UserSummary{creator}, members...))
	if err := s.chats.Create(ctx, chat); err != nil {
		recordOp("create", observability.ResultError)
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	recordOp("create", observability.ResultOK)
	s.publish(chat.ID, chat.Audience())
	observability.FromContext(ctx).Info("chat created",
		"chat_id", chat.ID, "kind", string(chat.Kind), "participants", len(chat.ParticipantIDs))
	return chat, nil
}

// CreateTeam opens the team chat bound to rosterID. A roster that already
// has a chat gets that chat back unchanged.
func (s *MembershipService) CreateTeam(ctx context.Context, rosterID, label string, memberIDs []string) (*domain.Chat, error) {
	rosterID = strings.TrimSpace(rosterID)
	if rosterID == "" {
		return nil, fmt.Errorf("roster id is required: %w", domain.ErrInvalidInput)
	}

	existing, err := s.chats.GetByRoster(ctx, rosterID)
	if err == nil {
		recordOp("create_team", observability.ResultNoop)
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	label, err = normalizeLabel(label, false)
	if err != nil {
		return nil, err
	}
	members, err := s.resolveAll(ctx, memberIDs)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		recordOp("create_team", observability.ResultError)
		return nil, domain.ErrNoValidRecipients
	}

	chat := newChat(domain.KindTeam, label, "", members)
	chat.BoundRosterID = &rosterID
	if err := s.chats.Create(ctx, chat); err != nil {
		// A concurrent sync may have bound the roster first.
		if existing, getErr := s.chats.GetByRoster(ctx, rosterID); getErr == nil {
			recordOp("create_team", observability.ResultNoop)
			return existing, nil
		}
		recordOp("create_team", observability.ResultError)
		return nil, fmt.Errorf("failed to create team chat: %w", err)
	}

	recordOp("create_team", observability.ResultOK)
	s.publish(chat.ID, chat.Audience())
	observability.FromContext(ctx).Info("team chat created",
		"chat_id", chat.ID, "roster_id", rosterID, "participants", len(chat.ParticipantIDs))
	return chat, nil
}

// AddParticipant adds the user behind emailOrID. Existing members yield the
// chat together with domain.ErrAlreadyMember. Without includeHistory the new
// member only sees messages from the moment of joining.
func (s *MembershipService) AddParticipant(ctx context.Context, chatID, actorID, emailOrID string, includeHistory bool) (*domain.Chat, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	user, err := s.directory.Resolve(ctx, emailOrID)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", emailOrID, err)
	}
	if chat.IsParticipant(user.ID) {
		recordOp("add", observability.ResultNoop)
		return chat, domain.ErrAlreadyMember
	}

	patch := &domain.ChatPatch{
		AddParticipants: []string{user.ID},
		AddVisible:      []string{user.ID},
		SetSummaries:    map[string]domain.UserSummary{user.ID: user},
		SetUnread:       map[string]int{user.ID: 0},
	}
	if includeHistory {
		patch.ClearCutoffs = []string{user.ID}
	} else {
		patch.SetCutoffs = map[string]time.Time{user.ID: s.joinCutoff(chat)}
	}

	updated, err := s.chats.Put(ctx, chatID, patch)
	if err != nil {
		recordOp("add", observability.ResultError)
		return nil, err
	}
	recordOp("add", observability.ResultOK)
	s.publish(chatID, updated.Audience())

	if actorID == "" {
		s.note(ctx, chatID, fmt.Sprintf("%s joined the chat", user.DisplayName()))
	} else {
		s.note(ctx, chatID, fmt.Sprintf("%s added %s", actorName(chat, actorID), user.DisplayName()))
	}
	return updated, nil
}

// Leave ends userID's membership. Leaving a chat one is not part of is a no-op.
func (s *MembershipService) Leave(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.MembershipOf(userID).Leave() == chat.MembershipOf(userID) {
		recordOp("leave", observability.ResultNoop)
		return chat, nil
	}

	updated, err := s.chats.Put(ctx, chatID, &domain.ChatPatch{
		RemoveParticipants: []string{userID},
		RemoveVisible:      []string{userID},
		RemoveSummaries:    []string{userID},
	})
	if err != nil {
		recordOp("leave", observability.ResultError)
		return nil, err
	}
	recordOp("leave", observability.ResultOK)
	s.publish(chatID, lo.Union(chat.Audience(), updated.Audience()))

	s.note(ctx, chatID, fmt.Sprintf("%s left the chat", actorName(chat, userID)))
	return updated, nil
}

// Hide drops the chat from userID's list without ending membership. The
// next message to the chat brings it back.
func (s *MembershipService) Hide(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsVisibleTo(userID) {
		recordOp("hide", observability.ResultNoop)
		return chat, nil
	}

	updated, err := s.chats.Put(ctx, chatID, &domain.ChatPatch{RemoveVisible: []string{userID}})
	if err != nil {
		recordOp("hide", observability.ResultError)
		return nil, err
	}
	recordOp("hide", observability.ResultOK)
	s.publish(chatID, lo.Union(chat.Audience(), []string{userID}))
	return updated, nil
}

// Rename sets the chat label
func (s *MembershipService) Rename(ctx context.Context, chatID, actorID, label string) (*domain.Chat, error) {
	label, err := normalizeLabel(label, false)
	if err != nil {
		return nil, err
	}
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}

	updated, err := s.chats.Put(ctx, chatID, &domain.ChatPatch{Label: &label})
	if err != nil {
		recordOp("rename", observability.ResultError)
		return nil, err
	}
	recordOp("rename", observability.ResultOK)
	s.publish(chatID, updated.Audience())

	s.note(ctx, chatID, fmt.Sprintf("%s renamed the chat to %q", actorName(chat, actorID), label))
	return updated, nil
}

// UpdateAvatar points the chat at a new avatar and returns the blob path of
// the avatar it replaced, if any.
func (s *MembershipService) UpdateAvatar(ctx context.Context, chatID, actorID, url, blobPath string) (*domain.Chat, string, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, "", err
	}

	updated, err := s.chats.Put(ctx, chatID, &domain.ChatPatch{AvatarURL: &url, AvatarPath: &blobPath})
	if err != nil {
		recordOp("avatar", observability.ResultError)
		return nil, "", err
	}
	recordOp("avatar", observability.ResultOK)
	s.publish(chatID, updated.Audience())

	s.note(ctx, chatID, fmt.Sprintf("%s changed the group photo", actorName(chat, actorID)))
	return updated, chat.AvatarPath, nil
}

// UnbindFromRoster detaches a team chat from its roster and turns it into a group
func (s *MembershipService) UnbindFromRoster(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat, err := s.chats.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.BoundRosterID == nil && chat.Kind != domain.KindTeam {
		recordOp("unbind", observability.ResultNoop)
		return chat, nil
	}

	group := domain.KindGroup
	updated, err := s.chats.Put(ctx, chatID, &domain.ChatPatch{ClearBoundRoster: true, Kind: &group})
	if err != nil {
		recordOp("unbind", observability.ResultError)
		return nil, err
	}
	recordOp("unbind", observability.ResultOK)
	s.publish(chatID, updated.Audience())

	s.note(ctx, chatID, "This chat is no longer linked to a roster")
	return updated, nil
}

// RefreshSummary rewrites the user's denormalized summary in every chat they
// belong to. It returns how many chats were updated.
func (s *MembershipService) RefreshSummary(ctx context.Context, user domain.UserSummary) (int, error) {
	chats, err := s.chats.ListByParticipant(ctx, user.ID)
	if err != nil {
		return 0, err
	}

	var (
		updated int
		errs    []error
	)
	for _, chat := range chats {
		if chat.ParticipantSummaries[user.ID] == user {
			continue
		}
		after, err := s.chats.Put(ctx, chat.ID, &domain.ChatPatch{
			SetSummaries: map[string]domain.UserSummary{user.ID: user},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("chat %s: %w", chat.ID, err))
			continue
		}
		updated++
		s.publish(chat.ID, after.Audience())
	}

	if len(errs) > 0 {
		recordOp("refresh_summary", observability.ResultError)
		return updated, errors.Join(errs...)
	}
	recordOp("refresh_summary", observability.ResultOK)
	return updated, nil
}

// joinCutoff is the first instant a member added now may see. It never
// precedes the newest existing message, even if that timestamp came from a
// clock running ahead of ours.
func (s *MembershipService) joinCutoff(chat *domain.Chat) time.Time {
	cutoff := s.now().UTC()
	if chat.LastMessageAt != nil && !chat.LastMessageAt.Before(cutoff) {
		cutoff = chat.LastMessageAt.Add(time.Microsecond)
	}
	return cutoff
}

func (s *MembershipService) resolveAll(ctx context.Context, keys []string) ([]domain.UserSummary, error) {
	var out []domain.UserSummary
	for _, key := range keys {
		user, err := s.directory.Resolve(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			observability.FromContext(ctx).Debug("skipping unresolved recipient", "recipient", key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", key, err)
		}
		out = append(out, user)
	}
	return lo.UniqBy(out, func(u domain.UserSummary) string { return u.ID }), nil
}

func (s *MembershipService) note(ctx context.Context, chatID, text string) {
	if s.notes == nil {
		return
	}
	if _, err := s.notes.AppendSystem(ctx, chatID, text); err != nil {
		observability.ChatBookkeepingFailures.WithLabelValues("system_note").Inc()
		observability.FromContext(ctx).Warn("failed to append system note",
			"chat_id", chatID, observability.Err(err))
	}
}

func (s *MembershipService) publish(chatID string, audience []string) {
	if s.changes == nil {
		return
	}
	s.changes.Publish(realtime.Change{ChatID: chatID, Kind: realtime.ChangeChat, Audience: audience})
}

func newChat(kind domain.Kind, label, createdBy string, members []domain.UserSummary) *domain.Chat {
	chat := &domain.Chat{
		Kind:                 kind,
		Label:                label,
		CreatedBy:            createdBy,
		ParticipantSummaries: make(map[string]domain.UserSummary, len(members)),
		UnreadCounts:         make(map[string]int, len(members)),
	}
	for _, m := range members {
		chat.ParticipantIDs = append(chat.ParticipantIDs, m.ID)
		chat.ParticipantSummaries[m.ID] = m
		chat.UnreadCounts[m.ID] = 0
	}
	chat.VisibleToIDs = append([]string(nil), chat.ParticipantIDs...)
	return chat
}

func normalizeLabel(label string, allowEmpty bool) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" && !allowEmpty {
		return "", fmt.Errorf("label is required: %w", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(label) > MaxLabelLength {
		return "", fmt.Errorf("label longer than %d characters: %w", MaxLabelLength, domain.ErrInvalidInput)
	}
	return label, nil
}

// actorName prefers the summary stored on the chat, which survives the
// actor leaving in the same operation.
func actorName(chat *domain.Chat, userID string) string {
	if summary, ok := chat.ParticipantSummaries[userID]; ok {
		return summary.DisplayName()
	}
	if userID == "" {
		return "Someone"
	}
	return userID
}

func recordOp(op, result string) {
	observability.ChatMembershipOps.WithLabelValues(op, result).Inc()
}
