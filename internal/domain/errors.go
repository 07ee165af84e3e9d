package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrNoValidRecipients = errors.New("no valid recipients")
	ErrEmptyMessage      = errors.New("message has no text or image")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnavailable       = errors.New("store unavailable")

	// ErrAlreadyMember is informational: the operation was a no-op.
	ErrAlreadyMember = errors.New("user is already a member of this chat")

	// ErrTeamLeaveForbidden is returned by the facade when a user tries to
	// leave a chat that is bound to a roster.
	ErrTeamLeaveForbidden = errors.New("team chats follow their roster and cannot be left directly")
)
