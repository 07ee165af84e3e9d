package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"teamchat/internal/directory"
	"teamchat/internal/domain"
	"teamchat/internal/realtime"
	"teamchat/internal/repository/memory"
	"teamchat/internal/storage"
	"teamchat/internal/testutil"
)

var (
	alice = domain.UserSummary{ID: "alice", Name: "Alice", Email: "alice@example.com"}
	bob   = domain.UserSummary{ID: "bob", Name: "Bob", Email: "bob@example.com"}
	carol = domain.UserSummary{ID: "carol", Name: "Carol", Email: "carol@example.com"}
	dave  = domain.UserSummary{ID: "dave", Name: "Dave", Email: "dave@example.com"}
)

type recordedChanges struct {
	mu      sync.Mutex
	changes []realtime.Change
	next    realtime.Publisher
}

func (r *recordedChanges) Publish(change realtime.Change) {
	r.mu.Lock()
	r.changes = append(r.changes, change)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Publish(change)
	}
}

func (r *recordedChanges) all() []realtime.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Change(nil), r.changes...)
}

// harness wires the services over the in-memory stores
type harness struct {
	store      domain.ChatStore
	memStore   *memory.ChatStore
	messages   *memory.MessageRepository
	directory  *directory.StaticDirectory
	bus        *realtime.Bus
	changes    *recordedChanges
	events     *testutil.MockEventPublisher
	blobs      *storage.MemoryBlobStore
	membership *MembershipService
	msgs       *MessageService
	reads      *ReadModel
	facade     *ChatFacade
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	systemAffectsUnread bool
	wrapStore           func(domain.ChatStore) domain.ChatStore
	retry               RetryPolicy
}

func withSystemUnread() harnessOption {
	return func(c *harnessConfig) { c.systemAffectsUnread = true }
}

func withStore(wrap func(domain.ChatStore) domain.ChatStore) harnessOption {
	return func(c *harnessConfig) { c.wrapStore = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := &harnessConfig{retry: RetryPolicy{MaxAttempts: 4, BaseDelay: 0}}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &harness{
		memStore:  memory.NewChatStore(),
		messages:  memory.NewMessageRepository(),
		directory: directory.NewStaticDirectory(alice, bob, carol, dave),
		bus:       realtime.NewBus(),
		events:    &testutil.MockEventPublisher{},
		blobs:     storage.NewMemoryBlobStore("https://cdn.test"),
	}
	h.store = h.memStore
	if cfg.wrapStore != nil {
		h.store = cfg.wrapStore(h.memStore)
	}
	h.changes = &recordedChanges{next: h.bus}

	h.msgs = NewMessageService(h.store, h.messages, h.changes, h.events, cfg.systemAffectsUnread)
	h.membership = NewMembershipService(h.store, h.directory, h.msgs, h.changes)
	h.reads = NewReadModel(h.store, h.messages, h.bus, DefaultHistoryWindow)
	h.facade = NewChatFacade(h.store, h.membership, h.msgs, h.reads, h.blobs, cfg.retry)
	return h
}

func (h *harness) chat(t *testing.T, chatID string) *domain.Chat {
	t.Helper()
	chat, err := h.store.Get(context.Background(), chatID)
	require.NoError(t, err)
	return chat
}

func (h *harness) history(t *testing.T, chatID string) []*domain.Message {
	t.Helper()
	msgs, err := h.messages.ListRecent(context.Background(), chatID, nil, 1000)
	require.NoError(t, err)
	return msgs
}

func texts(msgs []*domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

// flakyStore fails the first failures calls of each wrapped method with
// domain.ErrUnavailable.
type flakyStore struct {
	domain.ChatStore
	mu       sync.Mutex
	failures int
	calls    map[string]int
}

func newFlakyStore(failures int) func(domain.ChatStore) domain.ChatStore {
	return func(next domain.ChatStore) domain.ChatStore {
		return &flakyStore{ChatStore: next, failures: failures, calls: make(map[string]int)}
	}
}

func (f *flakyStore) fail(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.calls[op] <= f.failures
}

func (f *flakyStore) Get(ctx context.Context, chatID string) (*domain.Chat, error) {
	if f.fail("get") {
		return nil, domain.ErrUnavailable
	}
	return f.ChatStore.Get(ctx, chatID)
}

func (f *flakyStore) Put(ctx context.Context, chatID string, patch *domain.ChatPatch) (*domain.Chat, error) {
	if f.fail("put") {
		return nil, domain.ErrUnavailable
	}
	return f.ChatStore.Put(ctx, chatID, patch)
}
