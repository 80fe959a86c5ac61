package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_RequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "key")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("SESSION_LIST_WINDOW", "48h")
	t.Setenv("MAX_CHUNK_SIZE", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.MaxChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 0.5, cfg.SimilarityThreshold)
	assert.Equal(t, 50, cfg.OCRBatchPages)
	assert.Equal(t, 48*time.Hour, cfg.SessionListWindow)
	assert.True(t, cfg.GuardEnabled)
	assert.False(t, cfg.TrustProxyHeaders)
	assert.Equal(t, 300, cfg.RateLimitIPReqs)
}

func TestValidate_Overlap(t *testing.T) {
	cfg := &Config{JWTSecret: "s", GeminiAPIKey: "k", MaxChunkSize: 100, ChunkOverlap: 100, VectorDimensions: 8}
	assert.Error(t, cfg.Validate())

	cfg.ChunkOverlap = 20
	assert.NoError(t, cfg.Validate())

	cfg.S3Bucket = "uploads"
	assert.Error(t, cfg.Validate())
}
