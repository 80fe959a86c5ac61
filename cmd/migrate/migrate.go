package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"document-chat-platform/internal/config"
	"document-chat-platform/internal/logger"
	"document-chat-platform/internal/session"
	"document-chat-platform/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  indexes         - Create the MongoDB indexes")
		fmt.Println("  expire-sessions - Delete sessions idle longer than SESSION_RETENTION")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	// Connect to MongoDB
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Disconnect(context.Background())

	st := store.NewMongoStore(client, cfg.DBName)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch command {
	case "indexes":
		if err := st.EnsureIndexes(ctx); err != nil {
			log.Fatalf("Index creation failed: %v", err)
		}
		fmt.Println("Indexes created successfully!")

	case "expire-sessions":
		mgr := session.NewManager(st, session.Options{}, logger.Logger)
		n, err := mgr.Expire(ctx, cfg.SessionRetention)
		if err != nil {
			log.Fatalf("Session expiry failed: %v", err)
		}
		fmt.Printf("Deleted %d expired sessions\n", n)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}
