package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"teamchat/internal/domain"
	"teamchat/internal/middleware"
)

// RouterConfig collects what the HTTP surface needs
type RouterConfig struct {
	Auth           *AuthHandler
	Chats          *ChatHandler
	Sockets        *WebSocketHandler
	Sessions       domain.SessionRepository
	ReadyChecks    map[string]Checker
	AllowedOrigins []string
	OpenAPI        *middleware.OpenAPIValidatorConfig
	// AuthLimiter is keyed by IP, APILimiter by user
	AuthLimiter *middleware.RateLimiter
	APILimiter  *middleware.RateLimiter
}

// NewRouter mounts every route behind the shared middleware stack
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.Metrics())

	r.Get("/health", Health)
	r.Get("/health/ready", Ready(cfg.ReadyChecks))
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OpenAPIValidator(cfg.OpenAPI))

		r.Group(func(r chi.Router) {
			if cfg.AuthLimiter != nil {
				r.Use(cfg.AuthLimiter.Middleware())
			}
			r.Post("/auth/register", cfg.Auth.Register)
			r.Post("/auth/login", cfg.Auth.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Sessions))
			if cfg.APILimiter != nil {
				r.Use(cfg.APILimiter.Middleware())
			}

			r.Post("/auth/logout", cfg.Auth.Logout)
			r.Get("/auth/me", cfg.Auth.Me)
			r.Patch("/auth/me", cfg.Auth.UpdateMe)

			r.Get("/chats", cfg.Chats.List)
			r.Post("/chats", cfg.Chats.Create)
			r.Post("/teams", cfg.Chats.CreateTeam)

			r.Route("/chats/{id}", func(r chi.Router) {
				r.Use(middleware.ChatScope)

				r.Get("/", cfg.Chats.Get)
				r.Patch("/", cfg.Chats.Rename)
				r.Get("/messages", cfg.Chats.Messages)
				r.Post("/messages", cfg.Chats.SendMessage)
				r.Post("/images", cfg.Chats.SendImage)
				r.Post("/notes", cfg.Chats.Note)
				r.Post("/read", cfg.Chats.MarkRead)
				r.Post("/participants", cfg.Chats.AddParticipant)
				r.Post("/leave", cfg.Chats.Leave)
				r.Post("/hide", cfg.Chats.Hide)
				r.Put("/photo", cfg.Chats.UpdatePhoto)
				r.Post("/unbind", cfg.Chats.Unbind)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Sessions))
		r.Get("/ws/chats", cfg.Sockets.Chats)
		r.With(middleware.ChatScope).Get("/ws/chats/{id}", cfg.Sockets.Messages)
	})

	return r
}
