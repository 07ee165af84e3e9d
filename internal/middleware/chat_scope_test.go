package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"teamchat/internal/observability"
)

func TestLoggingScopes(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(observability.NewLogger(&buf, "info", "json"))
	defer slog.SetDefault(prev)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(RequestLogging)
	r.With(ChatScope).Get("/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		observability.FromContext(r.Context()).Info("handled")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/chats/chat-42", nil))

	out := buf.String()
	assert.Contains(t, out, `"chat_id":"chat-42"`)
	assert.Contains(t, out, `"request_id":`)
}
