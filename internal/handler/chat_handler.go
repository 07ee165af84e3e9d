package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"teamchat/internal/domain"
	"teamchat/internal/middleware"
	"teamchat/internal/service"
)

// MaxUploadSize bounds image uploads
const MaxUploadSize = 5 << 20

// ChatHandler serves the chat endpoints
type ChatHandler struct {
	facade *service.ChatFacade
}

// NewChatHandler creates a new chat handler
func NewChatHandler(facade *service.ChatFacade) *ChatHandler {
	return &ChatHandler{facade: facade}
}

// ChatView is a chat as seen by one user
type ChatView struct {
	*domain.Chat
	DisplayLabel string `json:"display_label"`
	Unread       int    `json:"unread"`
}

// NewChatView projects chat for viewerID
func NewChatView(chat *domain.Chat, viewerID string) ChatView {
	return ChatView{
		Chat:         chat,
		DisplayLabel: chat.DisplayLabel(viewerID),
		Unread:       chat.Unread(viewerID),
	}
}

// ChatViews projects a chat list for viewerID
func ChatViews(chats []*domain.Chat, viewerID string) []ChatView {
	out := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		out = append(out, NewChatView(c, viewerID))
	}
	return out
}

// CreateChatRequest opens a direct or group chat
type CreateChatRequest struct {
	Recipients []string `json:"recipients" validate:"required,min=1,max=100,dive,required,max=255"`
	Label      string   `json:"label" validate:"max=100"`
}

// CreateTeamRequest opens a chat bound to a roster
type CreateTeamRequest struct {
	RosterID string   `json:"roster_id" validate:"required,max=100"`
	Label    string   `json:"label" validate:"required,max=100"`
	Members  []string `json:"members" validate:"required,min=1,dive,required"`
}

// SendMessageRequest posts a user message
type SendMessageRequest struct {
	Text     string `json:"text" validate:"max=4000"`
	ImageURL string `json:"image_url" validate:"omitempty,url,max=2048"`
}

// NoteRequest posts a system note
type NoteRequest struct {
	Text string `json:"text" validate:"required,max=1000"`
}

// AddParticipantRequest adds a user by email or id
type AddParticipantRequest struct {
	User           string `json:"user" validate:"required,max=255"`
	IncludeHistory bool   `json:"include_history"`
}

// AddParticipantResponse reports whether the user was already a member
type AddParticipantResponse struct {
	Chat          ChatView `json:"chat"`
	AlreadyMember bool     `json:"already_member"`
}

// RenameRequest changes a group label
type RenameRequest struct {
	Label string `json:"label" validate:"required,max=100"`
}

// requireUser fetches the caller; it writes 401 when absent
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
	}
	return userID, ok
}

// chatRequest extracts the caller and the chat id from the route
func chatRequest(w http.ResponseWriter, r *http.Request) (userID, chatID string, ok bool) {
	userID, ok = requireUser(w, r)
	if !ok {
		return "", "", false
	}
	chatID = chi.URLParam(r, "id")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "Chat ID required")
		return "", "", false
	}
	return userID, chatID, true
}

// List returns the caller's visible chats, most recent first
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	chats, err := h.facade.UserChats(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": ChatViews(chats, userID)})
}

// Create opens a direct or group chat
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateChatRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	chat, err := h.facade.CreateDirectOrGroupChat(r.Context(), userID, req.Recipients, req.Label)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewChatView(chat, userID))
}

// CreateTeam opens a roster-bound chat
func (h *ChatHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req CreateTeamRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	chat, err := h.facade.CreateTeamAs(r.Context(), userID, req.RosterID, req.Label, req.Members)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewChatView(chat, userID))
}

// Get returns one chat to a participant
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}

	chat, err := h.facade.Chat(r.Context(), chatID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewChatView(chat, userID))
}

// Messages returns the caller's window of the history
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}

	msgs, err := h.facade.Messages(r.Context(), chatID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []*domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// SendMessage posts a text message, optionally with an already uploaded image
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	msg, err := h.facade.SendMessage(r.Context(), chatID, userID, req.Text, req.ImageURL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// SendImage uploads the multipart "image" field and posts it with an optional caption
func (h *ChatHandler) SendImage(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}
	data, ok := readUpload(w, r, "image")
	if !ok {
		return
	}

	msg, err := h.facade.SendImageMessage(r.Context(), chatID, userID, r.FormValue("caption"), data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Note posts a system note on behalf of a member
func (h *ChatHandler) Note(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}
	var req NoteRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	msg, err := h.facade.SendSystemNote(r.Context(), chatID, userID, req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead clears the caller's unread counter
func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.chatAction(w, r, h.facade.MarkRead)
}

// Leave removes the caller from a group chat
func (h *ChatHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.chatAction(w, r, h.facade.LeaveChat)
}

// Hide removes the chat from the caller's list until the next message
func (h *ChatHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.chatAction(w, r, h.facade.HideChat)
}

// Unbind turns a team chat into a plain group
func (h *ChatHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	h.chatAction(w, r, h.facade.UnbindAs)
}

type chatOp func(ctx context.Context, chatID, userID string) (*domain.Chat, error)

func (h *ChatHandler) chatAction(w http.ResponseWriter, r *http.Request, op chatOp) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}

	chat, err := op(r.Context(), chatID, userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewChatView(chat, userID))
}

// AddParticipant adds a user to a group or team chat
func (h *ChatHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}
	var req AddParticipantRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	chat, err := h.facade.AddParticipant(r.Context(), chatID, userID, req.User, req.IncludeHistory)
	switch {
	case errors.Is(err, domain.ErrAlreadyMember) && chat != nil:
		writeJSON(w, http.StatusOK, AddParticipantResponse{Chat: NewChatView(chat, userID), AlreadyMember: true})
	case err != nil:
		writeServiceError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, AddParticipantResponse{Chat: NewChatView(chat, userID)})
	}
}

// Rename changes a group's label
func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	chat, err := h.facade.RenameChat(r.Context(), chatID, userID, req.Label)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewChatView(chat, userID))
}

// UpdatePhoto replaces the group avatar with the multipart "photo" field
func (h *ChatHandler) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	userID, chatID, ok := chatRequest(w, r)
	if !ok {
		return
	}
	data, ok := readUpload(w, r, "photo")
	if !ok {
		return
	}

	chat, err := h.facade.UpdateGroupPhoto(r.Context(), chatID, userID, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewChatView(chat, userID))
}

// readUpload reads one multipart file field, bounded by MaxUploadSize
func readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize+(64<<10))
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		} else {
			writeError(w, http.StatusBadRequest, "Invalid multipart body")
		}
		return nil, false
	}

	file, _, err := r.FormFile(field)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" is required")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return nil, false
	}
	if len(data) > MaxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, field+" is empty")
		return nil, false
	}
	return data, true
}
