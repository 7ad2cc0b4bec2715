package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/routetouni/chatd/internal/api/middleware"
	"github.com/routetouni/chatd/internal/chat"
	"github.com/routetouni/chatd/internal/handlers"
	"github.com/routetouni/chatd/internal/store"
	"github.com/routetouni/chatd/internal/ws"
)

// Config holds router-level options.
type Config struct {
	AllowedOrigins []string
	RateLimiter    middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router. redisClient may be nil,
// in which case rate limiting is disabled.
func NewRouter(logger zerolog.Logger, data store.DataStore, log store.MessageLog, manager *chat.Manager, wsServer *ws.Server, redisClient *redis.Client, cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, logger, cfg.RateLimiter)
		r.Use(limiter.Middleware)
	}

	// CORS
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Chat-UID", "X-Chat-Name", "X-Chat-Picture", "X-Chat-Mentor"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(data, log, manager)
	identity := middleware.NewIdentity(data)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no identity required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/users", h.UpsertUser)

	// Identified routes
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)

		r.Get("/chat/users", h.ListUsers)
		r.Post("/chat/rooms", h.CreateRoom)
		r.Get("/chat/conversations", h.Conversations)
		r.Get("/chat/rooms/{id}/messages", h.GetRoomMessages)
		r.Get("/find", h.Search)
		r.Get("/ws", wsServer.HandleWS)
	})

	return r
}
