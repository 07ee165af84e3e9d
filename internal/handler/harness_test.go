package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"teamchat/internal/directory"
	"teamchat/internal/domain"
	"teamchat/internal/middleware"
	"teamchat/internal/realtime"
	"teamchat/internal/repository/memory"
	"teamchat/internal/service"
	"teamchat/internal/storage"
	"teamchat/internal/testutil"
	ws "teamchat/internal/websocket"
)

type testUser struct {
	ID    string
	Token string
}

type recordingCache struct {
	invalidated []domain.UserSummary
}

func (c *recordingCache) Invalidate(ctx context.Context, summary domain.UserSummary) {
	c.invalidated = append(c.invalidated, summary)
}

// apiHarness serves the full router over in-memory stores
type apiHarness struct {
	server   *httptest.Server
	router   http.Handler
	auth     *service.AuthService
	facade   *service.ChatFacade
	users    *memory.UserRepository
	sessions *memory.SessionRepository
	hub      *ws.Hub
	cache    *recordingCache
	bus      *realtime.Bus
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	h := &apiHarness{
		users:    memory.NewUserRepository(),
		sessions: memory.NewSessionRepository(),
		hub:      ws.NewHub(),
		cache:    &recordingCache{},
		bus:      realtime.NewBus(),
	}
	h.auth = service.NewAuthService(h.users, h.sessions)

	chats := memory.NewChatStore()
	messages := memory.NewMessageRepository()
	msgs := service.NewMessageService(chats, messages, h.bus, nil, false)
	membership := service.NewMembershipService(chats, directory.NewAccountDirectory(h.users), msgs, h.bus)
	reads := service.NewReadModel(chats, messages, h.bus, service.DefaultHistoryWindow)
	blobs := storage.NewMemoryBlobStore("https://cdn.test")
	h.facade = service.NewChatFacade(chats, membership, msgs, reads, blobs, service.RetryPolicy{MaxAttempts: 1})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.hub.Run(ctx) }()

	router := NewRouter(RouterConfig{
		Auth:           NewAuthHandler(h.auth, h.facade, h.cache, h.hub),
		Chats:          NewChatHandler(h.facade),
		Sockets:        NewWebSocketHandler(h.hub, h.facade, nil),
		Sessions:       h.sessions,
		ReadyChecks:    map[string]Checker{},
		AllowedOrigins: []string{"http://app.test"},
		OpenAPI:        &middleware.OpenAPIValidatorConfig{Enabled: false},
	})
	h.router = router
	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// signUp registers and logs in a user directly through the service
func (h *apiHarness) signUp(t *testing.T, name, email string) testUser {
	t.Helper()
	ctx := context.Background()
	user, err := h.auth.Register(ctx, name, email, "password123")
	require.NoError(t, err)
	session, _, err := h.auth.Login(ctx, email, "password123")
	require.NoError(t, err)
	return testUser{ID: user.ID, Token: session.Token}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// serve runs one request through the router without a network round trip
func (h *apiHarness) serve(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type errorBody struct {
	Error string `json:"error"`
}

type chatBody struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Label          string   `json:"label"`
	DisplayLabel   string   `json:"display_label"`
	Unread         int      `json:"unread"`
	ParticipantIDs []string `json:"participant_ids"`
	BoundRosterID  *string  `json:"bound_roster_id"`
	AvatarURL      string   `json:"avatar_url"`
	Preview        string   `json:"last_message_preview"`
}

type messageBody struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	SenderID *string `json:"sender_id"`
	Text     string  `json:"text"`
	ImageURL string  `json:"image_url"`
}
