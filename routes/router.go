package routes

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"document-chat-platform/internal/blob"
	"document-chat-platform/internal/config"
	"document-chat-platform/internal/telemetry"
	"document-chat-platform/middleware"
	"document-chat-platform/services"
	"document-chat-platform/utils"
)

// Enqueuer is the part of *asynq.Client the upload handler needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Pinger is a dependency checked by /health.
type Pinger func(ctx context.Context) error

// Deps carries everything the HTTP layer calls into. Redis, Queue, Blobs and
// Metrics are optional.
type Deps struct {
	Config    *config.Config
	Documents *services.DocumentService
	Chat      *services.ChatService
	Usage     *services.UsageReportService
	Blobs     blob.Store
	Queue     Enqueuer
	Redis     redis.Cmdable
	Metrics   *telemetry.Metrics
	Health    map[string]Pinger
	Log       *slog.Logger
}

// SetupRouter builds the gin engine with the middleware chain and every API
// route.
func SetupRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Config.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if d.Config.OTLPEndpoint != "" {
		router.Use(middleware.TracingMiddleware("document-chat-platform"))
		router.Use(middleware.EnrichTrace())
	}
	clientIP := utils.ClientIPResolver(d.Config.TrustProxyHeaders)
	router.Use(middleware.RequestLogger(d.Log, clientIP))
	router.Use(middleware.MetricsMiddleware(d.Metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(d.Config.CORSOrigins))

	SetupHealthRoutes(router, d.Health)

	authMiddleware := middleware.NewAuthMiddleware(d.Config.JWTSecret)
	api := router.Group("/api")
	window := time.Duration(d.Config.RateLimitWindow) * time.Second
	if d.Redis != nil {
		api.Use(middleware.RateLimitByIP(d.Redis, d.Config.RateLimitIPReqs, window, clientIP))
	}
	api.Use(authMiddleware.RequireAuth())
	if d.Redis != nil {
		api.Use(middleware.RateLimitMiddleware(d.Redis, d.Config.RateLimitReqs, window))
	}

	SetupDocumentRoutes(api, d)
	SetupChatRoutes(api, d)
	SetupSessionRoutes(api, d)
	SetupMemoryRoutes(api, d)
	SetupUsageRoutes(api, d)

	return router
}
