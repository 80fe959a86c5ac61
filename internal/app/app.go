// Package app builds the service graph shared by the API server and the
// ingest worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"document-chat-platform/internal/ai"
	"document-chat-platform/internal/apperr"
	"document-chat-platform/internal/blob"
	"document-chat-platform/internal/chunking"
	"document-chat-platform/internal/config"
	"document-chat-platform/internal/embedding"
	"document-chat-platform/internal/extraction"
	"document-chat-platform/internal/guard"
	"document-chat-platform/internal/retrieval"
	"document-chat-platform/internal/retry"
	"document-chat-platform/internal/session"
	"document-chat-platform/internal/store"
	"document-chat-platform/internal/telemetry"
	"document-chat-platform/internal/usage"
	"document-chat-platform/services"
)

type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *telemetry.Metrics

	Mongo  *mongo.Client
	Redis  *redis.Client
	Store  *store.MongoStore
	Gemini *ai.GeminiClient
	Blobs  blob.Store

	Sessions  *session.Manager
	Documents *services.DocumentService
	Chat      *services.ChatService
	Usage     *services.UsageReportService

	pdfOCR *extraction.PDFOCR
}

// NewApp connects to Mongo, Redis and Gemini and wires every service. Redis
// is optional: without it the embedding cache stays in memory and rate
// limiting is off.
func NewApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Warn("metrics disabled", "error", err)
	}
	a.Metrics = metrics

	a.Mongo, err = config.ConnectMongoDB(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store.NewMongoStore(a.Mongo, cfg.DBName).WithMetrics(a.Metrics)
	log.Info("MongoDB connected", "db", cfg.DBName)

	a.Redis, err = config.NewRedisClient(cfg)
	if err != nil {
		log.Warn("redis unavailable, continuing without it", "error", err)
		a.Redis = nil
	}

	a.Gemini, err = ai.NewGeminiClient(ctx, cfg, metrics, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize gemini client: %w", err)
	}

	if cfg.S3Bucket != "" {
		a.Blobs, err = blob.NewS3(ctx, cfg)
	} else {
		a.Blobs, err = blob.NewDisk(cfg.FileStorageDir)
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize blob store: %w", err)
	}

	renderer := extraction.NewPoppler(cfg.OCRDPI)
	if !renderer.Available() {
		log.Warn("pdftoppm not found, scanned PDFs will fail OCR fallback")
	}
	a.pdfOCR, err = extraction.NewPDFOCR(
		renderer,
		a.Gemini,
		cfg.RenderWorkers,
		cfg.OCRBatchPages,
		cfg.OCRBatchPause,
		log,
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize ocr pool: %w", err)
	}
	pipeline := extraction.NewPipeline(metrics, log,
		extraction.NewDigitalText(cfg.MinDirectTextChars, a.pdfOCR, log),
		extraction.NewImageOCR(a.Gemini),
		extraction.NewWordDocument(),
	)

	var rdb redis.Cmdable
	if a.Redis != nil {
		rdb = a.Redis
	}
	vectors, err := embedding.NewVectorCache(cfg.EmbeddingCacheItems, cfg.EmbeddingCacheTTL, rdb)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize embedding cache: %w", err)
	}
	policy := retry.Default(apperr.Retryable)
	policy.MaxAttempts = uint(max(cfg.RetryMaxAttempts, 1))
	policy.InitialInterval = cfg.RetryInitialBackoff
	policy.MaxInterval = cfg.RetryMaxBackoff
	generator := embedding.NewGenerator(a.Gemini.Embeddings(), vectors, a.Store, embedding.Options{
		BatchSize:   cfg.EmbeddingBatchSize,
		Concurrency: cfg.EmbeddingConcurrency,
		Retry:       policy,
	}, metrics, log)

	meter := usage.NewMeter(a.Store, a.Store, usage.DefaultPrices(), log)
	a.Sessions = session.NewManager(a.Store, session.Options{
		CacheSize:  cfg.SessionCacheSize,
		CacheTTL:   cfg.SessionCacheTTL,
		ListWindow: cfg.SessionListWindow,
	}, log)

	a.Documents = services.NewDocumentService(a.Store, pipeline,
		chunking.New(cfg.MaxChunkSize, cfg.ChunkOverlap), generator, meter, log)
	retriever := retrieval.NewRetriever(generator, a.Store, cfg.SimilarityThreshold, cfg.SmallCorpusChunks, log)
	a.Chat = services.NewChatService(a.Sessions, a.Documents, retriever, a.Gemini.Chat(), meter, cfg.SessionHistory, log)
	if cfg.GuardEnabled {
		a.Chat.WithGuard(guard.New(a.Gemini.Chat(), log))
	}
	a.Usage = services.NewUsageReportService(meter, log)

	return a, nil
}

// EnsureIndexes creates the Mongo indexes every query relies on.
func (a *App) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	return a.Store.EnsureIndexes(ctx)
}

// Close releases pools and connections. It is safe on a partially built App.
func (a *App) Close() {
	if a.pdfOCR != nil {
		a.pdfOCR.Release()
	}
	if a.Gemini != nil {
		_ = a.Gemini.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Mongo.Disconnect(ctx); err != nil {
			a.Log.Warn("mongo disconnect failed", "error", err)
		}
	}
}
