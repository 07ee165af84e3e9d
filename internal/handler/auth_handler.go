package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"teamchat/internal/domain"
	"teamchat/internal/middleware"
	"teamchat/internal/observability"
	"teamchat/internal/service"
)

// ProfileSync copies profile edits into the chats a user belongs to
type ProfileSync interface {
	RefreshUserSummary(ctx context.Context, user domain.UserSummary) (int, error)
}

// SummaryCache drops stale user summaries
type SummaryCache interface {
	Invalidate(ctx context.Context, summary domain.UserSummary)
}

// Disconnector closes a user's live sockets
type Disconnector interface {
	DisconnectUser(userID string)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
	profiles    ProfileSync
	cache       SummaryCache
	sockets     Disconnector
}

// NewAuthHandler creates a new authentication handler. cache and sockets
// may be nil.
func NewAuthHandler(authService *service.AuthService, profiles ProfileSync, cache SummaryCache, sockets Disconnector) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		profiles:    profiles,
		cache:       cache,
		sockets:     sockets,
	}
}

// RegisterRequest represents registration request
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=100"`
}

// LoginRequest represents login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the bearer token
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *domain.User `json:"user"`
}

// UpdateProfileRequest edits the caller's display fields
type UpdateProfileRequest struct {
	Name      string `json:"name" validate:"required,max=100"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url,max=2048"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.authService.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// Login exchanges credentials for a bearer token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	})
}

// Logout revokes the current token and closes the user's sockets
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Session not found")
		return
	}

	if err := h.authService.Logout(r.Context(), session.Token); err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.sockets != nil {
		h.sockets.DisconnectUser(session.UserID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's account
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateMe edits the caller's profile and refreshes the copies held by chats
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.authService.UpdateProfile(r.Context(), userID, req.Name, req.AvatarURL)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	summary := user.Summary()
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), summary)
	}
	// the profile is saved; stale chat copies are repaired on the next edit
	if n, err := h.profiles.RefreshUserSummary(r.Context(), summary); err != nil {
		observability.FromContext(r.Context()).Warn("failed to refresh user summary in chats",
			observability.Err(err))
	} else {
		observability.FromContext(r.Context()).Debug("user summary refreshed",
			slog.Int("chats", n))
	}

	writeJSON(w, http.StatusOK, user)
}
