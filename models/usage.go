package models

import "time"

// Operation kinds recorded in the usage ledger.
const (
	OpExtraction     = "extraction"
	OpOCRPage        = "ocr_page"
	OpEmbedding      = "embedding"
	OpChatCompletion = "chat_completion"
	OpReuse          = "reuse"
)

// Units
const (
	UnitPages  = "pages"
	UnitTokens = "tokens"
)

// UsageRecord is append-only.
type UsageRecord struct {
	ID           string    `bson:"_id" json:"id"`
	Owner        string    `bson:"owner" json:"owner"`
	Operation    string    `bson:"operation" json:"operation"`
	Quantity     int       `bson:"quantity" json:"quantity"`
	Unit         string    `bson:"unit" json:"unit"`
	Pages        int       `bson:"pages,omitempty" json:"pages,omitempty"`
	InputTokens  int       `bson:"input_tokens,omitempty" json:"input_tokens,omitempty"`
	OutputTokens int       `bson:"output_tokens,omitempty" json:"output_tokens,omitempty"`
	Cost         float64   `bson:"cost" json:"cost"`
	WouldBeCost  float64   `bson:"would_be_cost,omitempty" json:"would_be_cost,omitempty"`
	DocumentHash string    `bson:"document_hash,omitempty" json:"document_hash,omitempty"`
	SessionID    string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// UsageLine aggregates records of one operation kind.
type UsageLine struct {
	Operation   string  `bson:"_id" json:"operation"`
	Records     int     `bson:"records" json:"records"`
	Quantity    int     `bson:"quantity" json:"quantity"`
	Pages       int     `bson:"pages" json:"pages"`
	Cost        float64 `bson:"cost" json:"cost"`
	WouldBeCost float64 `bson:"would_be_cost" json:"would_be_cost"`
}

// UsageSummary is the per-owner usage report.
type UsageSummary struct {
	Owner            string      `json:"owner"`
	Since            time.Time   `json:"since"`
	Lines            []UsageLine `json:"lines"`
	TotalCost        float64     `json:"total_cost"`
	SavedCost        float64     `json:"saved_cost"`
	DeletedDocuments int         `json:"deleted_documents"`
	DeletedPages     int         `json:"deleted_pages"`
}
