package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"teamchat/internal/observability"
)

// RequestLogging copies chi's request id into the logging context. Mount it
// after chimiddleware.RequestID.
func RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// ChatScope tags the request's logger with the chat from the {id} route param
func ChatScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chatID := chi.URLParam(r, "id"); chatID != "" {
			r = r.WithContext(observability.WithChatID(r.Context(), chatID))
		}
		next.ServeHTTP(w, r)
	})
}
