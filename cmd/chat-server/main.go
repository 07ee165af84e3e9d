package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"teamchat/internal/config"
	"teamchat/internal/directory"
	"teamchat/internal/domain"
	"teamchat/internal/handler"
	"teamchat/internal/messaging"
	"teamchat/internal/middleware"
	"teamchat/internal/observability"
	"teamchat/internal/realtime"
	"teamchat/internal/repository/memory"
	"teamchat/internal/repository/postgres"
	"teamchat/internal/service"
	"teamchat/internal/storage"
	"teamchat/internal/websocket"
)

// stores are the repositories behind one backend
type stores struct {
	chats    domain.ChatStore
	messages domain.MessageRepository
	users    domain.UserRepository
	sessions domain.SessionRepository
	db       *sql.DB
}

func main() {
	cfg := config.Load()
	observability.InitLogger(cfg.LogLevel, cfg.LogFormat)

	slog.Info("starting chat server",
		slog.String("environment", cfg.Environment),
		slog.String("store_backend", cfg.StoreBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open stores", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	rdb, err := config.NewRedisClient(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure blob storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
	rmqCancel()
	if err != nil {
		slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer rmq.Close()

	// changes fan out locally, and across instances when Redis is available
	bus := realtime.NewBus()
	var changes realtime.Publisher = bus
	var users directory.UserDirectory = directory.NewAccountDirectory(st.users)
	var summaryCache handler.SummaryCache
	if rdb != nil {
		relay := realtime.NewRedisRelay(bus, rdb, realtime.DefaultRelayChannel)
		changes = relay
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("change relay stopped", slog.String("error", err.Error()))
			}
		}()

		cached := directory.NewCachedDirectory(users, rdb, directory.DefaultCacheTTL)
		users = cached
		summaryCache = cached
	}

	authService := service.NewAuthService(st.users, st.sessions)
	messageService := service.NewMessageService(st.chats, st.messages, changes, rmq, cfg.SystemMessagesAffectUnread)
	membershipService := service.NewMembershipService(st.chats, users, messageService, changes)
	readModel := service.NewReadModel(st.chats, st.messages, bus, cfg.HistoryWindow)
	facade := service.NewChatFacade(st.chats, membershipService, messageService, readModel, blobs, service.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	})

	rosterConsumer := messaging.NewRosterConsumer(rmq, facade)
	if err := rosterConsumer.Start(ctx); err != nil {
		slog.Error("failed to start roster consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("roster consumer started")

	hub := websocket.NewHub()
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("websocket hub started")

	go startSessionCleanup(ctx, st.sessions)

	authLimiter := middleware.NewRateLimiter(5, 10)
	defer authLimiter.Stop()
	apiLimiter := middleware.NewRateLimiter(20, 50)
	defer apiLimiter.Stop()

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)
	router := handler.NewRouter(handler.RouterConfig{
		Auth:           handler.NewAuthHandler(authService, facade, summaryCache, hub),
		Chats:          handler.NewChatHandler(facade),
		Sockets:        handler.NewWebSocketHandler(hub, facade, origins),
		Sessions:       st.sessions,
		ReadyChecks:    readyChecks(st.db, rmq, rdb),
		AllowedOrigins: origins,
		OpenAPI:        middleware.DefaultOpenAPIValidatorConfig(cfg.OpenAPIValidation, cfg.OpenAPISpecPath),
		AuthLimiter:    authLimiter,
		APILimiter:     apiLimiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("chat server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	// closes sockets, subscriptions and consumers
	cancel()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
	}

	slog.Info("server stopped gracefully")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StoreBackend == config.BackendMemory {
		slog.Warn("using in-memory stores; data is lost on restart")
		return &stores{
			chats:    memory.NewChatStore(),
			messages: memory.NewMessageRepository(),
			users:    memory.NewUserRepository(),
			sessions: memory.NewSessionRepository(),
		}, nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := config.NewPostgresConnection(connCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("connected to postgresql")

	result, err := postgres.Migrate(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database migrated",
		slog.Uint64("version", uint64(result.Version)),
		slog.Bool("changed", result.Changed))

	return &stores{
		chats:    postgres.NewChatRepository(db),
		messages: postgres.NewMessageRepository(db),
		users:    postgres.NewUserRepository(db),
		sessions: postgres.NewSessionRepository(db),
		db:       db,
	}, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, error) {
	client, err := config.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		slog.Warn("S3_BUCKET not set; uploads are kept in memory")
		return storage.NewMemoryBlobStore("http://localhost:" + cfg.Port + "/blobs"), nil
	}
	return storage.NewS3BlobStore(client, cfg.S3Bucket, cfg.S3Region, cfg.S3PublicDomain), nil
}

func readyChecks(db *sql.DB, rmq *messaging.RabbitMQ, rdb *redis.Client) map[string]handler.Checker {
	checks := map[string]handler.Checker{
		"rabbitmq": handler.BrokerCheck(rmq),
	}
	if db != nil {
		checks["database"] = handler.DatabaseCheck(db)
	}
	if rdb != nil {
		checks["redis"] = handler.RedisCheck(rdb)
	}
	return checks
}

// startSessionCleanup runs a background task to delete expired sessions
func startSessionCleanup(ctx context.Context, repo domain.SessionRepository) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping session cleanup task")
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			count, err := repo.DeleteExpired(cleanupCtx)
			if err != nil {
				slog.Error("session cleanup failed", slog.String("error", err.Error()))
			} else {
				slog.Info("session cleanup completed",
					slog.Int64("sessions_deleted", count))
			}
			cancel()
		}
	}
}
