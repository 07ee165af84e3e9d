package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Formats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(&buf, "info", "json").Info("hello", "key", "value")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "hello", line["msg"])
		assert.Equal(t, "value", line["key"])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(&buf, "info", "text").Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("level_filters", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&buf, "warn", "text")
		l.Info("dropped")
		l.Warn("kept")
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestFromContext_AttachesIDs(t *testing.T) {
	var buf bytes.Buffer
	prev := logger
	logger = NewLogger(&buf, "info", "json")
	defer func() { logger = prev }()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithChatID(ctx, "chat-1")

	FromContext(ctx).Info("with ids")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "user-1", line["user_id"])
	assert.Equal(t, "chat-1", line["chat_id"])
}

func TestFromContext_Uninitialized(t *testing.T) {
	prev := logger
	logger = nil
	defer func() { logger = prev }()

	assert.NotNil(t, FromContext(context.Background()))
}

func TestErr(t *testing.T) {
	assert.Equal(t, "boom", Err(errors.New("boom")).Value.String())
	assert.Equal(t, "", Err(nil).Value.String())
}
