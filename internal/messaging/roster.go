package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"teamchat/internal/domain"
)

// Roster event types published by the roster domain
const (
	RosterCreated       = "roster.created"
	RosterMemberAdded   = "roster.member_added"
	RosterMemberRemoved = "roster.member_removed"
	RosterDisbanded     = "roster.disbanded"
)

// RosterEvent is the payload on the roster.events exchange
type RosterEvent struct {
	Type      string   `json:"type"`
	RosterID  string   `json:"roster_id"`
	Label     string   `json:"label,omitempty"`
	MemberIDs []string `json:"member_ids,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// TeamChats is the part of the chat facade the roster sync drives
type TeamChats interface {
	CreateBoundTeamChat(ctx context.Context, rosterID, label string, memberIDs []string) (*domain.Chat, error)
	TeamChatForRoster(ctx context.Context, rosterID string) (*domain.Chat, error)
	AddParticipant(ctx context.Context, chatID, actorID, emailOrID string, includeHistory bool) (*domain.Chat, error)
	LeaveBoundTeam(ctx context.Context, chatID, userID string) (*domain.Chat, error)
	UnbindFromRoster(ctx context.Context, chatID string) (*domain.Chat, error)
}

// RosterConsumer keeps team chats in step with their rosters
type RosterConsumer struct {
	rmq   *RabbitMQ
	teams TeamChats
}

func NewRosterConsumer(rmq *RabbitMQ, teams TeamChats) *RosterConsumer {
	return &RosterConsumer{rmq: rmq, teams: teams}
}

// Start consumes the roster queue in the background until ctx is done
func (c *RosterConsumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Consume(RosterQueue, 10)
	if err != nil {
		return err
	}
	go Run(ctx, "roster", msgs, c.Handle)
	return nil
}

// Handle applies one roster event. Events for rosters without a team chat
// are ignored.
func (c *RosterConsumer) Handle(ctx context.Context, body []byte) error {
	var event RosterEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if event.RosterID == "" {
		return fmt.Errorf("%w: missing roster_id", errMalformed)
	}

	log := slog.With(slog.String("type", event.Type), slog.String("roster_id", event.RosterID))

	if event.Type == RosterCreated {
		chat, err := c.teams.CreateBoundTeamChat(ctx, event.RosterID, event.Label, event.MemberIDs)
		if err != nil {
			return err
		}
		log.Info("team chat ready", slog.String("chat_id", chat.ID))
		return nil
	}

	chat, err := c.teams.TeamChatForRoster(ctx, event.RosterID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("no team chat for roster")
		return nil
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case RosterMemberAdded:
		_, err = c.teams.AddParticipant(ctx, chat.ID, "", event.UserID, false)
		if errors.Is(err, domain.ErrAlreadyMember) {
			err = nil
		}
	case RosterMemberRemoved:
		_, err = c.teams.LeaveBoundTeam(ctx, chat.ID, event.UserID)
	case RosterDisbanded:
		_, err = c.teams.UnbindFromRoster(ctx, chat.ID)
	default:
		log.Warn("ignoring unknown roster event")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s for chat %s: %w", event.Type, chat.ID, err)
	}

	log.Info("applied roster event", slog.String("chat_id", chat.ID))
	return nil
}
