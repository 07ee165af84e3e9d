package domain

// MembershipState is the position of one user relative to one chat
type MembershipState int

const (
	NonMember MembershipState = iota
	MemberVisible
	MemberHidden
)

func (s MembershipState) String() string {
	switch s {
	case MemberVisible:
		return "member_visible"
	case MemberHidden:
		return "member_hidden"
	default:
		return "non_member"
	}
}

// MembershipOf derives the state of userID in the chat
func (c *Chat) MembershipOf(userID string) MembershipState {
	if !c.IsParticipant(userID) {
		return NonMember
	}
	if c.IsVisibleTo(userID) {
		return MemberVisible
	}
	return MemberHidden
}

// Add moves a non-member into the chat. Re-adding an existing member keeps its state.
func (s MembershipState) Add() MembershipState {
	if s == NonMember {
		return MemberVisible
	}
	return s
}

// Hide removes the chat from the member's list without ending membership.
func (s MembershipState) Hide() MembershipState {
	if s == MemberVisible {
		return MemberHidden
	}
	return s
}

// Leave ends membership from any state.
func (s MembershipState) Leave() MembershipState {
	return NonMember
}

// Resurface is the effect of a new message arriving for a member.
func (s MembershipState) Resurface() MembershipState {
	if s == MemberHidden {
		return MemberVisible
	}
	return s
}
