package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"document-chat-platform/internal/app"
	"document-chat-platform/internal/config"
	"document-chat-platform/internal/logger"
	"document-chat-platform/internal/telemetry"
	"document-chat-platform/routes"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)
	lg := logger.With("api")

	shutdownTracer, err := telemetry.InitTracer("document-chat-platform", cfg.OTLPEndpoint, cfg.TraceSampleRate)
	if err != nil {
		lg.Error("tracing disabled", "error", err)
		shutdownTracer = func() {}
	}
	defer shutdownTracer()

	a, err := app.NewApp(context.Background(), cfg, logger.Logger)
	if err != nil {
		log.Fatal("Failed to initialize services:", err)
	}
	defer a.Close()

	if err := a.EnsureIndexes(context.Background()); err != nil {
		lg.Warn("index creation failed", "error", err)
	}

	deps := routes.Deps{
		Config:    cfg,
		Documents: a.Documents,
		Chat:      a.Chat,
		Usage:     a.Usage,
		Blobs:     a.Blobs,
		Metrics:   a.Metrics,
		Log:       logger.Logger,
		Health: map[string]routes.Pinger{
			"mongo": func(ctx context.Context) error { return a.Mongo.Ping(ctx, nil) },
		},
	}

	if a.Redis != nil {
		deps.Redis = a.Redis
		deps.Health["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }

		redisOpt, err := config.AsynqRedisOpt(cfg)
		if err != nil {
			log.Fatal("Invalid Redis configuration:", err)
		}
		queueClient := asynq.NewClient(redisOpt)
		defer queueClient.Close()
		deps.Queue = queueClient
	}

	router := routes.SetupRouter(deps)

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		lg.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("server forced to shutdown", "error", err)
	}

	lg.Info("server exited")
}
