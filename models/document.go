package models

import "time"

// Extraction types recorded on a document.
const (
	ExtractionText = "text"
	ExtractionOCR  = "ocr"
)

// Document processing status
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document is identified by (content_hash, owner).
type Document struct {
	ContentHash    string    `bson:"content_hash" json:"content_hash"`
	Owner          string    `bson:"owner" json:"owner"`
	Filename       string    `bson:"filename" json:"filename"`
	ContentType    string    `bson:"content_type" json:"content_type"`
	ExtractionType string    `bson:"extraction_type" json:"extraction_type"`
	PageCount      int       `bson:"page_count" json:"page_count"`
	TokenCount     int       `bson:"token_count" json:"token_count"`
	ChunkCount     int       `bson:"chunk_count" json:"chunk_count"`
	FailedChunks   int       `bson:"failed_chunks" json:"failed_chunks"`
	Status         string    `bson:"status" json:"status"`
	Error          string    `bson:"error,omitempty" json:"error,omitempty"`
	SizeBytes      int64     `bson:"size_bytes" json:"size_bytes"`
	TextBlob       []byte    `bson:"text_blob,omitempty" json:"-"`
	TextEncoding   string    `bson:"text_encoding,omitempty" json:"-"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	LastUsedAt     time.Time `bson:"last_used_at" json:"last_used_at"`
}

// DeletedDocument keeps the billing facts of a document after deletion.
type DeletedDocument struct {
	ContentHash    string    `bson:"content_hash" json:"content_hash"`
	Owner          string    `bson:"owner" json:"owner"`
	Filename       string    `bson:"filename" json:"filename"`
	ExtractionType string    `bson:"extraction_type" json:"extraction_type"`
	PageCount      int       `bson:"page_count" json:"page_count"`
	TokenCount     int       `bson:"token_count" json:"token_count"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	DeletedAt      time.Time `bson:"deleted_at" json:"deleted_at"`
}

// DocumentInfo is the API view of a document with a short text sample.
type DocumentInfo struct {
	Document
	Sample string `json:"sample,omitempty"`
}
