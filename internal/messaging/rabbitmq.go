package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"teamchat/internal/domain"
)

// Exchanges, queues and routing keys owned by the chat service
const (
	EventsExchange = "chat.events"
	RosterExchange = "roster.events"

	PushQueue   = "chat.push"
	RosterQueue = "chat.roster"

	messageRoutingPrefix = "message."
)

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	// publishes share one channel
	mu sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry keeps dialing with exponential backoff until the
// broker accepts the connection or ctx ends. Brokers often start after us.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotifyWithData(func() (*RabbitMQ, error) {
		attempt++
		return NewRabbitMQ(url)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		slog.Warn("rabbitmq not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))
	})
}

// Setup declares the topology. It is idempotent.
func (r *RabbitMQ) Setup() error {
	for _, exchange := range []string{EventsExchange, RosterExchange} {
		if err := r.channel.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare %s exchange: %w", exchange, err)
		}
	}

	bindings := []struct {
		queue, key, exchange string
	}{
		{PushQueue, messageRoutingPrefix + "#", EventsExchange},
		{RosterQueue, "roster.#", RosterExchange},
	}
	for _, b := range bindings {
		if _, err := r.channel.QueueDeclare(
			b.queue, // name
			true,    // durable
			false,   // delete when unused
			false,   // exclusive
			false,   // no-wait
			nil,     // arguments
		); err != nil {
			return fmt.Errorf("failed to declare %s queue: %w", b.queue, err)
		}

		if err := r.channel.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s queue: %w", b.queue, err)
		}
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

// PublishMessageEvent announces an appended message on the events exchange
func (r *RabbitMQ) PublishMessageEvent(ctx context.Context, event *domain.MessageEvent) error {
	if err := r.publishJSON(ctx, EventsExchange, messageRoutingPrefix+string(event.Kind), event); err != nil {
		return err
	}

	slog.Debug("published message event",
		slog.String("chat_id", event.ChatID),
		slog.String("message_id", event.MessageID),
		slog.Int("recipients", len(event.RecipientIDs)))
	return nil
}

// PublishRosterEvent is used by roster tooling and tests; the roster domain
// normally publishes these itself.
func (r *RabbitMQ) PublishRosterEvent(ctx context.Context, event *RosterEvent) error {
	return r.publishJSON(ctx, RosterExchange, event.Type, event)
}

func (r *RabbitMQ) publishJSON(ctx context.Context, exchange, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

// Consume starts a manual-ack consumer on queue with the given prefetch
func (r *RabbitMQ) Consume(queue string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := r.channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := r.channel.Consume(
		queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming", slog.String("queue", queue))
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
