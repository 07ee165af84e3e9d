package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamchat/internal/domain"
)

type teamCall struct {
	method string
	args   []string
}

// fakeTeams records calls and serves one roster -> chat mapping
type fakeTeams struct {
	chats map[string]string
	err   error
	calls []teamCall
}

func (f *fakeTeams) record(method string, args ...string) {
	f.calls = append(f.calls, teamCall{method, args})
}

func (f *fakeTeams) CreateBoundTeamChat(ctx context.Context, rosterID, label string, memberIDs []string) (*domain.Chat, error) {
	f.record("create", append([]string{rosterID, label}, memberIDs...)...)
	return &domain.Chat{ID: "chat-" + rosterID}, f.err
}

func (f *fakeTeams) TeamChatForRoster(ctx context.Context, rosterID string) (*domain.Chat, error) {
	id, ok := f.chats[rosterID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &domain.Chat{ID: id}, nil
}

func (f *fakeTeams) AddParticipant(ctx context.Context, chatID, actorID, emailOrID string, includeHistory bool) (*domain.Chat, error) {
	f.record("add", chatID, actorID, emailOrID)
	return &domain.Chat{ID: chatID}, f.err
}

func (f *fakeTeams) LeaveBoundTeam(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	f.record("leave", chatID, userID)
	return &domain.Chat{ID: chatID}, f.err
}

func (f *fakeTeams) UnbindFromRoster(ctx context.Context, chatID string) (*domain.Chat, error) {
	f.record("unbind", chatID)
	return &domain.Chat{ID: chatID}, f.err
}

func body(t *testing.T, event RosterEvent) []byte {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return b
}

func TestRosterConsumer_Handle(t *testing.T) {
	tests := []struct {
		name          string
		event         RosterEvent
		facadeErr     error
		expectedCalls []teamCall
		expectedErr   error
	}{
		{
			name:          "created",
			event:         RosterEvent{Type: RosterCreated, RosterID: "r1", Label: "Seniors", MemberIDs: []string{"a", "b"}},
			expectedCalls: []teamCall{{"create", []string{"r1", "Seniors", "a", "b"}}},
		},
		{
			name:          "member_added_without_actor",
			event:         RosterEvent{Type: RosterMemberAdded, RosterID: "r1", UserID: "c"},
			expectedCalls: []teamCall{{"add", []string{"chat-1", "", "c"}}},
		},
		{
			name:          "member_added_twice_is_fine",
			event:         RosterEvent{Type: RosterMemberAdded, RosterID: "r1", UserID: "a"},
			facadeErr:     domain.ErrAlreadyMember,
			expectedCalls: []teamCall{{"add", []string{"chat-1", "", "a"}}},
		},
		{
			name:          "member_removed",
			event:         RosterEvent{Type: RosterMemberRemoved, RosterID: "r1", UserID: "b"},
			expectedCalls: []teamCall{{"leave", []string{"chat-1", "b"}}},
		},
		{
			name:          "disbanded",
			event:         RosterEvent{Type: RosterDisbanded, RosterID: "r1"},
			expectedCalls: []teamCall{{"unbind", []string{"chat-1"}}},
		},
		{
			name:  "unknown_roster_is_ignored",
			event: RosterEvent{Type: RosterMemberAdded, RosterID: "r9", UserID: "c"},
		},
		{
			name:  "unknown_type_is_ignored",
			event: RosterEvent{Type: "roster.renamed", RosterID: "r1"},
		},
		{
			name:          "store_outage_is_returned",
			event:         RosterEvent{Type: RosterMemberRemoved, RosterID: "r1", UserID: "b"},
			facadeErr:     domain.ErrUnavailable,
			expectedCalls: []teamCall{{"leave", []string{"chat-1", "b"}}},
			expectedErr:   domain.ErrUnavailable,
		},
		{
			name:        "missing_roster_id",
			event:       RosterEvent{Type: RosterDisbanded},
			expectedErr: errMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			teams := &fakeTeams{chats: map[string]string{"r1": "chat-1"}, err: tt.facadeErr}
			consumer := NewRosterConsumer(nil, teams)

			err := consumer.Handle(context.Background(), body(t, tt.event))
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedCalls, teams.calls)
		})
	}
}

func TestRosterConsumer_Handle_MalformedJSON(t *testing.T) {
	consumer := NewRosterConsumer(nil, &fakeTeams{})
	err := consumer.Handle(context.Background(), []byte("{not json"))
	assert.ErrorIs(t, err, errMalformed)
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAck) Nack(multiple, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestSettle(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected fakeAck
	}{
		{"success", nil, fakeAck{acked: true}},
		{"transient", errors.Join(errors.New("conn reset"), domain.ErrUnavailable), fakeAck{nacked: true, requeued: true}},
		{"permanent", domain.ErrInvalidInput, fakeAck{acked: true}},
		{"poison", errMalformed, fakeAck{acked: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &fakeAck{}
			settle("test", ack, tt.err)
			assert.Equal(t, tt.expected, *ack)
		})
	}
}
