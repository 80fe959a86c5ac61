package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MongoURI    string
	DBName      string
	JWTSecret   string
	Port        string
	GinMode     string
	CORSOrigins []string
	MaxFileSize int64

	RateLimitReqs   int
	RateLimitWindow int
	// Per client address, applied before authentication.
	RateLimitIPReqs   int
	TrustProxyHeaders bool

	// Redis Configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Gemini
	GeminiAPIKey     string
	GeminiTier       string
	ChatModel        string
	VisionModel      string
	EmbeddingsModel  string
	VectorDimensions int

	// Provider resilience
	ProviderConcurrency int
	ProviderTimeout     time.Duration
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// Extraction
	MinDirectTextChars int
	OCRDPI             int
	OCRBatchPages      int
	OCRBatchPause      time.Duration
	RenderWorkers      int

	// Chunking
	MaxChunkSize int
	ChunkOverlap int

	// Embeddings
	EmbeddingBatchSize   int
	EmbeddingConcurrency int
	EmbeddingCacheTTL    time.Duration
	EmbeddingCacheItems  int64

	// Retrieval
	SimilarityThreshold float64
	SmallCorpusChunks   int

	// Sessions
	SessionCacheSize  int
	SessionCacheTTL   time.Duration
	SessionHistory    int
	SessionListWindow time.Duration
	SessionRetention  time.Duration
	RetentionCron     string

	// Chat guard
	GuardEnabled bool

	// Blob storage for async ingestion
	FileStorageDir string
	S3Bucket       string
	S3Region       string
	AWSAccessKey   string
	AWSSecretKey   string

	// Telemetry
	OTLPEndpoint    string
	TraceSampleRate float64
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := &Config{
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017/document_chat"),
		DBName:      getEnv("DB_NAME", "document_chat"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Port:        getEnv("PORT", "8080"),
		GinMode:     getEnv("GIN_MODE", "debug"),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:8080"), ","),
		MaxFileSize: getEnvInt64("MAX_FILE_SIZE", 104857600), // 100MB

		RateLimitReqs:   getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow: getEnvInt("RATE_LIMIT_WINDOW", 60),

		RateLimitIPReqs:   getEnvInt("RATE_LIMIT_IP_REQUESTS", 300),
		TrustProxyHeaders: getEnv("TRUST_PROXY_HEADERS", "false") == "true",

		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiTier:       getEnv("GEMINI_TIER", "free"),
		ChatModel:        getEnv("GEMINI_CHAT_MODEL", "gemini-2.0-flash"),
		VisionModel:      getEnv("GEMINI_VISION_MODEL", "gemini-2.0-flash"),
		EmbeddingsModel:  getEnv("GOOGLE_EMBEDDINGS_MODEL", "text-embedding-004"),
		VectorDimensions: getEnvInt("VECTOR_DIM", 768),

		ProviderConcurrency: getEnvInt("PROVIDER_CONCURRENCY", 5),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		RetryMaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: getEnvDuration("RETRY_INITIAL_BACKOFF", 500*time.Millisecond),
		RetryMaxBackoff:     getEnvDuration("RETRY_MAX_BACKOFF", 8*time.Second),

		MinDirectTextChars: getEnvInt("MIN_DIRECT_TEXT_CHARS", 100),
		OCRDPI:             getEnvInt("OCR_DPI", 300),
		OCRBatchPages:      getEnvInt("OCR_BATCH_PAGES", 50),
		OCRBatchPause:      getEnvDuration("OCR_BATCH_PAUSE", 2*time.Second),
		RenderWorkers:      getEnvInt("RENDER_WORKERS", 4),

		MaxChunkSize: getEnvInt("MAX_CHUNK_SIZE", 1000),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 200),

		EmbeddingBatchSize:   getEnvInt("EMBEDDING_BATCH_SIZE", 32),
		EmbeddingConcurrency: getEnvInt("EMBEDDING_CONCURRENCY", 4),
		EmbeddingCacheTTL:    getEnvDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
		EmbeddingCacheItems:  getEnvInt64("EMBEDDING_CACHE_ITEMS", 50000),

		SimilarityThreshold: getEnvFloat64("SIMILARITY_THRESHOLD", 0.5),
		SmallCorpusChunks:   getEnvInt("SMALL_CORPUS_CHUNKS", 40),

		SessionCacheSize:  getEnvInt("SESSION_CACHE_SIZE", 1000),
		SessionCacheTTL:   getEnvDuration("SESSION_CACHE_TTL", 30*time.Minute),
		SessionHistory:    getEnvInt("SESSION_HISTORY_TURNS", 5),
		SessionListWindow: getEnvDuration("SESSION_LIST_WINDOW", 15*24*time.Hour),
		SessionRetention:  getEnvDuration("SESSION_RETENTION", 90*24*time.Hour),
		RetentionCron:     getEnv("RETENTION_CRON", "0 3 * * *"),

		GuardEnabled: getEnv("CHAT_GUARD_ENABLED", "true") == "true",

		FileStorageDir: getEnv("FILE_STORAGE_DIR", "./storage"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("AWS_REGION", ""),
		AWSAccessKey:   getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate: getEnvFloat64("TRACE_SAMPLE_RATE", 0.1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required secrets and the numeric invariants the pipeline
// relies on.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required - set it in .env file")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required - set it in .env file")
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("MAX_CHUNK_SIZE must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be between 0 and MAX_CHUNK_SIZE")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [0,1]")
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("VECTOR_DIM must be positive")
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return fmt.Errorf("AWS_REGION is required when S3_BUCKET is set")
	}
	return nil
}

// IsDebug reports whether the service runs in gin debug mode.
func (c *Config) IsDebug() bool {
	return c.GinMode == "debug"
}
