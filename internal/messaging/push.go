package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"teamchat/internal/domain"
	"teamchat/internal/observability"
)

// Notification is what a device receives for one message
type Notification struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// NotificationFor renders event for one recipient
func NotificationFor(event *domain.MessageEvent, recipientID string) Notification {
	n := Notification{UserID: recipientID, ChatID: event.ChatID, Body: event.Preview}
	switch {
	case event.ChatKind == domain.KindDirect && event.SenderName != "":
		n.Title = event.SenderName
	case event.SenderName != "" && event.Kind != domain.MessageSystem:
		n.Title = event.ChatLabel
		n.Body = event.SenderName + ": " + event.Preview
	default:
		n.Title = event.ChatLabel
	}
	return n
}

// Notifier delivers a notification to a user's devices
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of a push provider
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	observability.FromContext(ctx).Info("push notification",
		slog.String("user_id", n.UserID),
		slog.String("chat_id", n.ChatID),
		slog.String("title", n.Title),
		slog.String("body", n.Body))
	return nil
}

// PushWorker fans message events out to the notifier
type PushWorker struct {
	notifier Notifier
}

func NewPushWorker(notifier Notifier) *PushWorker {
	return &PushWorker{notifier: notifier}
}

// Handle notifies every recipient of one event. A failed recipient does not
// stop the others; the joined error is returned.
func (w *PushWorker) Handle(ctx context.Context, body []byte) error {
	var event domain.MessageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	var errs []error
	for _, recipient := range event.RecipientIDs {
		if err := w.notifier.Notify(ctx, NotificationFor(&event, recipient)); err != nil {
			observability.PushNotifications.WithLabelValues(observability.ResultError).Inc()
			errs = append(errs, fmt.Errorf("notify %s: %w", recipient, err))
			continue
		}
		observability.PushNotifications.WithLabelValues(observability.ResultOK).Inc()
	}
	return errors.Join(errs...)
}
