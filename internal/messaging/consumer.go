package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"teamchat/internal/domain"
)

// HandlerFunc processes one delivery body
type HandlerFunc func(ctx context.Context, body []byte) error

// errMalformed marks payloads that will never succeed
var errMalformed = errors.New("malformed payload")

// Run feeds deliveries to handle until ctx is done or the channel closes.
// Failures wrapping domain.ErrUnavailable are requeued; everything else is
// acked so a poison message cannot block the queue.
func Run(ctx context.Context, name string, msgs <-chan amqp.Delivery, handle HandlerFunc) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping consumer", slog.String("consumer", name))
			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Warn("consumer channel closed", slog.String("consumer", name))
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := handle(msgCtx, msg.Body)
			cancel()

			settle(name, msg, err)
		}
	}
}

// acknowledger is the subset of amqp.Delivery used to settle a message
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func settle(name string, msg acknowledger, err error) {
	switch {
	case err == nil:
		msg.Ack(false)
	case errors.Is(err, domain.ErrUnavailable):
		slog.Warn("requeueing delivery",
			slog.String("consumer", name),
			slog.String("error", err.Error()))
		msg.Nack(false, true)
	default:
		slog.Error("dropping delivery",
			slog.String("consumer", name),
			slog.String("error", err.Error()))
		msg.Ack(false)
	}
}
