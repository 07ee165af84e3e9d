package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"
)

// Clone returns a deep copy so callers cannot alias stored state
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	if c.BoundRosterID != nil {
		id := *c.BoundRosterID
		out.BoundRosterID = &id
	}
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		out.LastMessageAt = &at
	}
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	out.VisibleToIDs = slices.Clone(c.VisibleToIDs)
	out.ParticipantSummaries = maps.Clone(c.ParticipantSummaries)
	out.UnreadCounts = maps.Clone(c.UnreadCounts)
	out.HistoryCutoffs = maps.Clone(c.HistoryCutoffs)
	return &out
}

// ApplyTo mutates c in place with the patch's semantics.
// Removals run before additions so a patch may re-add what it removes.
func (p *ChatPatch) ApplyTo(c *Chat) {
	if p.IsEmpty() {
		return
	}
	stored := slices.Clone(c.ParticipantIDs)
	if p.Label != nil {
		c.Label = *p.Label
	}
	if p.AvatarURL != nil {
		c.AvatarURL = *p.AvatarURL
	}
	if p.AvatarPath != nil {
		c.AvatarPath = *p.AvatarPath
	}
	if p.Kind != nil {
		c.Kind = *p.Kind
	}
	if p.ClearBoundRoster {
		c.BoundRosterID = nil
	}
	if p.Preview != nil && (c.LastMessageAt == nil || !p.Preview.At.Before(*c.LastMessageAt)) {
		at := p.Preview.At
		c.LastMessagePreview = p.Preview.Text
		c.LastMessageAt = &at
	}

	if len(p.RemoveParticipants) > 0 || len(p.AddParticipants) > 0 {
		c.ParticipantIDs = lo.Union(lo.Without(c.ParticipantIDs, p.RemoveParticipants...), p.AddParticipants)
	}
	if len(p.RemoveVisible) > 0 || len(p.AddVisible) > 0 || p.ResurfaceParticipants {
		add := p.AddVisible
		if p.ResurfaceParticipants {
			add = lo.Union(add, stored)
		}
		c.VisibleToIDs = lo.Union(lo.Without(c.VisibleToIDs, p.RemoveVisible...), add)
	}

	if len(p.RemoveSummaries) > 0 || len(p.SetSummaries) > 0 {
		if c.ParticipantSummaries == nil {
			c.ParticipantSummaries = make(map[string]UserSummary)
		}
		for _, id := range p.RemoveSummaries {
			delete(c.ParticipantSummaries, id)
		}
		maps.Copy(c.ParticipantSummaries, p.SetSummaries)
	}

	if len(p.SetUnread) > 0 || len(p.IncrementUnread) > 0 || p.BumpParticipantsUnread {
		if c.UnreadCounts == nil {
			c.UnreadCounts = make(map[string]int)
		}
		maps.Copy(c.UnreadCounts, p.SetUnread)
		for _, id := range p.UnreadIncrements(stored) {
			c.UnreadCounts[id]++
		}
	}

	if len(p.ClearCutoffs) > 0 || len(p.SetCutoffs) > 0 {
		if c.HistoryCutoffs == nil {
			c.HistoryCutoffs = make(map[string]time.Time)
		}
		for _, id := range p.ClearCutoffs {
			delete(c.HistoryCutoffs, id)
		}
		maps.Copy(c.HistoryCutoffs, p.SetCutoffs)
	}
}

// UnreadIncrements is the de-duplicated set of users whose counter goes up by one
func (p *ChatPatch) UnreadIncrements(participants []string) []string {
	ids := lo.Uniq(p.IncrementUnread)
	if p.BumpParticipantsUnread {
		ids = lo.Union(ids, lo.Without(participants, p.UnreadExempt))
	}
	return ids
}
