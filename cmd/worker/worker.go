package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"document-chat-platform/internal/app"
	"document-chat-platform/internal/config"
	"document-chat-platform/internal/logger"
	"document-chat-platform/internal/queue"
	"document-chat-platform/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)
	lg := logger.With("worker")

	a, err := app.NewApp(context.Background(), cfg, logger.Logger)
	if err != nil {
		log.Fatal("Failed to initialize services:", err)
	}
	defer a.Close()

	// Retention sweep runs beside the queue consumer.
	cron := services.NewCronService(a.Sessions, cfg.SessionRetention, logger.Logger)
	if err := cron.ScheduleRetention(cfg.RetentionCron); err != nil {
		log.Fatal("Failed to schedule retention sweep:", err)
	}
	cron.Start()
	defer cron.Stop()

	// Redis options for Asynq
	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Invalid Redis configuration:", err)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				lg.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(a.Documents, a.Blobs, logger.Logger)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	lg.Info("starting asynq worker",
		"concurrency", 4,
		"queues", "critical(6), default(3), low(1)",
		"redis", redisOpt.Addr,
		"retention_cron", cfg.RetentionCron,
	)

	// Run blocks until SIGTERM or SIGINT.
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
