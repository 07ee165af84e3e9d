package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teamchat/internal/config"
	"teamchat/internal/messaging"
	"teamchat/internal/observability"
)

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting push worker")

	connCtx, connCancel := context.WithTimeout(context.Background(), 60*time.Second)
	rmq, err := messaging.NewRabbitMQWithRetry(connCtx, cfg.RabbitMQURL)
	connCancel()
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	msgs, err := rmq.Consume(messaging.PushQueue, 20)
	if err != nil {
		slog.Error("failed to start consuming", slog.String("error", err.Error()))
		os.Exit(1)
	}

	worker := messaging.NewPushWorker(messaging.LogNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		messaging.Run(ctx, "push", msgs, worker.Handle)
	}()

	slog.Info("push worker is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		slog.Info("shutting down push worker")
	case <-done:
		slog.Warn("delivery channel closed, exiting")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("consumer did not stop in time")
	}
	slog.Info("push worker stopped")
}
