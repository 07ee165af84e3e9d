package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"teamchat/internal/domain"
	"teamchat/internal/observability"
	"teamchat/internal/service"
	ws "teamchat/internal/websocket"
)

// WebSocketHandler upgrades authenticated requests into live read-model streams
type WebSocketHandler struct {
	hub      *ws.Hub
	facade   *service.ChatFacade
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler. Browsers must come
// from one of allowedOrigins; requests without an Origin header are accepted.
func NewWebSocketHandler(hub *ws.Hub, facade *service.ChatFacade, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		facade: facade,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if slices.Contains(allowed, "*") {
			return true
		}
		if slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, origin) }) {
			return true
		}
		// same-origin pages need no configuration
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// clientContext outlives the upgrade request and carries its logging fields
func clientContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// Chats streams the caller's chat list
func (h *WebSocketHandler) Chats(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(clientContext(r))
	snapshots, err := h.facade.SubscribeToUserChats(ctx, userID)
	if err != nil {
		cancel()
		writeServiceError(w, r, err)
		return
	}

	client, ok := h.upgrade(ctx, cancel, w, r, userID, ws.StreamChats, nil)
	if !ok {
		return
	}
	go ws.Forward(client, ws.FrameChats, snapshots, func(chats []*domain.Chat) any {
		return ChatViews(chats, userID)
	})
}

// Messages streams one chat's history and accepts message and read frames
func (h *WebSocketHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	chatID := chi.URLParam(r, "id")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "Chat ID required")
		return
	}

	ctx, cancel := context.WithCancel(observability.WithChatID(clientContext(r), chatID))
	snapshots, err := h.facade.SubscribeToMessages(ctx, chatID, userID)
	if err != nil {
		cancel()
		writeServiceError(w, r, err)
		return
	}

	actions := &chatActions{facade: h.facade, chatID: chatID, userID: userID}
	client, ok := h.upgrade(ctx, cancel, w, r, userID, ws.StreamMessages, actions)
	if !ok {
		return
	}
	go ws.Forward(client, ws.FrameMessages, snapshots, nil)
}

// upgrade switches protocols and starts the client's pumps. On failure it
// releases the subscription by cancelling ctx.
func (h *WebSocketHandler) upgrade(
	ctx context.Context,
	cancel context.CancelFunc,
	w http.ResponseWriter,
	r *http.Request,
	userID, stream string,
	actions ws.Actions,
) (*ws.Client, bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		observability.FromContext(r.Context()).Warn("websocket upgrade failed",
			slog.String("stream", stream),
			observability.Err(err))
		return nil, false
	}

	client := ws.NewClient(ctx, conn, userID, stream, actions)
	// the subscription ends with the client
	go func() {
		<-client.Context().Done()
		cancel()
	}()

	h.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
	return client, true
}

// chatActions performs socket frames against one chat as one user
type chatActions struct {
	facade *service.ChatFacade
	chatID string
	userID string
}

func (a *chatActions) Send(ctx context.Context, text, imageURL string) error {
	_, err := a.facade.SendMessage(ctx, a.chatID, a.userID, text, imageURL)
	return err
}

func (a *chatActions) MarkRead(ctx context.Context) error {
	_, err := a.facade.MarkRead(ctx, a.chatID, a.userID)
	return err
}
