package models

import "time"

// ChunkEmbedding is keyed by (document_hash, chunk_index, owner).
type ChunkEmbedding struct {
	DocumentHash string    `bson:"document_hash" json:"document_hash"`
	ChunkIndex   int       `bson:"chunk_index" json:"chunk_index"`
	Owner        string    `bson:"owner" json:"owner"`
	Page         int       `bson:"page" json:"page"`
	Text         string    `bson:"text" json:"text"`
	Vector       []float32 `bson:"vector" json:"-"`
	Model        string    `bson:"model" json:"model"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}
