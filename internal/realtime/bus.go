// Package realtime fans chat changes out to live read-model subscriptions.
package realtime

import (
	"slices"
	"sync"
)

// ChangeKind says which projection a change invalidates
type ChangeKind string

const (
	// ChangeChat touches chat metadata, membership or bookkeeping
	ChangeChat ChangeKind = "chat"
	// ChangeMessages means the chat's message stream grew
	ChangeMessages ChangeKind = "messages"
)

// Change notifies subscribers that a chat was written. Audience lists every
// user whose chat list may differ, including users who just lost access.
type Change struct {
	ChatID   string     `json:"chat_id"`
	Kind     ChangeKind `json:"kind"`
	Audience []string   `json:"audience"`
}

// Publisher accepts changes after they are committed
type Publisher interface {
	Publish(change Change)
}

// Filter selects the changes a subscription cares about
type Filter func(Change) bool

// ForUser matches changes whose audience includes userID
func ForUser(userID string) Filter {
	return func(c Change) bool { return slices.Contains(c.Audience, userID) }
}

// ForChat matches every change to chatID
func ForChat(chatID string) Filter {
	return func(c Change) bool { return c.ChatID == chatID }
}

// Bus is an in-process publish/subscribe hub
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	filter Filter
	ch     chan Change
}

// NewBus creates a new bus
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish never blocks. A subscriber whose buffer is full already has a
// pending wake-up, and subscribers always re-read full state, so the drop is lossless.
func (b *Bus) Publish(change Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter(change) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
}

// Subscribe returns a channel of matching changes and an unsubscribe function.
// bufSize below 1 is raised to 1.
func (b *Bus) Subscribe(filter Filter, bufSize int) (<-chan Change, func()) {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan Change, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{filter: filter, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers reports the number of open subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
