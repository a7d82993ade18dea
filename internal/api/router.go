package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/api/handler"
	customMiddleware "github.com/Rrens/chatnil/internal/api/middleware"
	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/llm"
	"github.com/Rrens/chatnil/internal/llm/anthropic"
	"github.com/Rrens/chatnil/internal/llm/gemini"
	"github.com/Rrens/chatnil/internal/llm/ollama"
	"github.com/Rrens/chatnil/internal/llm/openai"
	"github.com/Rrens/chatnil/internal/repository/postgres"
	"github.com/Rrens/chatnil/internal/repository/redis"
	"github.com/Rrens/chatnil/internal/security"
	"github.com/Rrens/chatnil/internal/service"
	"github.com/Rrens/chatnil/internal/upload"
)

// Services are the dependencies the routes are served from
type Services struct {
	Auth        *service.AuthService
	Chats       *service.ChatService
	Documents   *service.DocumentService
	Completions *service.CompletionService
	LLM         *llm.Router

	// Optional
	RateLimiter customMiddleware.Limiter
	Cache       handler.CacheFlusher
	Ready       map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router. redisClient may be nil,
// which disables caching and rate limiting.
func NewRouter(cfg *config.Config, db *postgres.DB, redisClient *redis.Client) http.Handler {
	jwtManager := security.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		cfg.Auth.AccessTokenTTL,
	)

	llmRouter := NewLLMRouter(cfg.LLM)

	policy := upload.DefaultPolicy()
	if cfg.Security.MaxUploadBytes > 0 {
		policy.MaxBytes = cfg.Security.MaxUploadBytes
	}

	chatRepo := db.Chats()
	docRepo := db.Documents()

	svc := Services{
		Auth:        service.NewAuthService(jwtManager),
		Documents:   service.NewDocumentService(docRepo, policy, cfg.Security.MaxDocumentText),
		Completions: service.NewCompletionService(llmRouter, docRepo, cfg.LLM.Timeout),
		LLM:         llmRouter,
		Ready:       map[string]handler.Pinger{"database": db},
	}

	if redisClient != nil {
		chatCache := redis.NewChatCache(redisClient, cfg.Redis.ChatListTTL)
		svc.Chats = service.NewChatService(chatRepo, chatCache)
		svc.Cache = chatCache
		svc.RateLimiter = redis.NewRateLimiter(
			redisClient,
			cfg.Security.RateLimit.RequestsPerMinute,
			cfg.Security.RateLimit.Burst,
		)
		svc.Ready["redis"] = redisClient
	} else {
		log.Warn().Msg("Redis disabled: no chat cache and no rate limiting")
		svc.Chats = service.NewChatService(chatRepo, nil)
	}

	return Routes(cfg, svc)
}

// NewLLMRouter registers every configured completion provider
func NewLLMRouter(cfg config.LLMConfig) *llm.Router {
	llmRouter := llm.NewRouter(cfg.DefaultProvider)

	log.Info().Msgf("Initializing LLM providers. Default: %s", cfg.DefaultProvider)

	if cfg.Ollama.Host != "" {
		log.Info().Str("host", cfg.Ollama.Host).Msg("Registering Ollama provider")
		llmRouter.RegisterProvider(ollama.NewProvider(cfg.Ollama.Host, cfg.Ollama.DefaultModel))
	}
	if cfg.OpenAI.APIKey != "" {
		llmRouter.RegisterProvider(openai.NewProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL))
	}
	if cfg.DeepSeek.APIKey != "" {
		llmRouter.RegisterProvider(openai.NewDeepSeekProvider(cfg.DeepSeek.APIKey, cfg.DeepSeek.Model, cfg.DeepSeek.BaseURL))
	}
	if cfg.Anthropic.APIKey != "" {
		llmRouter.RegisterProvider(anthropic.NewProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.BaseURL))
	}
	if cfg.Gemini.APIKey != "" {
		llmRouter.RegisterProvider(gemini.NewProvider(cfg.Gemini))
	} else {
		log.Debug().Msg("Gemini API Key is empty, skipping registration")
	}

	return llmRouter
}

// Routes mounts the API on a new router
func Routes(cfg *config.Config, svc Services) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(svc.Auth)
	chatHandler := handler.NewChatHandler(svc.Chats)
	documentHandler := handler.NewDocumentHandler(svc.Documents, cfg.Security.MaxUploadBytes)
	completionHandler := handler.NewCompletionHandler(svc.Completions)

	authMiddleware := customMiddleware.NewAuthMiddleware(svc.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(svc.Ready))

		if cfg.Auth.DevTokens {
			r.Post("/auth/token", authHandler.IssueToken)
		}

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			if svc.RateLimiter != nil {
				r.Use(customMiddleware.NewRateLimitMiddleware(svc.RateLimiter).Limit)
			}

			r.Get("/auth/me", authHandler.Me)
			r.Get("/llm-providers", handler.ListLLMProviders(svc.LLM))
			if svc.Cache != nil {
				r.Post("/cache/flush", handler.FlushCache(svc.Cache))
			}

			r.Route("/chats", func(r chi.Router) {
				r.Get("/", chatHandler.List)

				r.Route("/{chatID}", func(r chi.Router) {
					r.Put("/", chatHandler.Upsert)
					r.Delete("/", chatHandler.Delete)
					r.Delete("/messages/{messageID}", chatHandler.DeleteMessage)
					r.Patch("/messages/{messageID}", chatHandler.EditMessage)
				})
			})

			r.Post("/documents", documentHandler.Upload)
			r.Post("/completions", completionHandler.Stream)
		})
	})

	return r
}
