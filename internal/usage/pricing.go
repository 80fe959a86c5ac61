// Package usage meters billable work and derives its cost.
package usage

// Prices are in USD. Token prices are per million tokens.
type Prices struct {
	ChatInputPerMillion  float64
	ChatOutputPerMillion float64
	EmbeddingPerMillion  float64
	OCRPerPage           float64
	ExtractionPerPage    float64
}

func DefaultPrices() Prices {
	return Prices{
		ChatInputPerMillion:  0.15,
		ChatOutputPerMillion: 0.60,
		EmbeddingPerMillion:  0.13,
		OCRPerPage:           0.0025,
		ExtractionPerPage:    0,
	}
}

func perMillion(tokens int, price float64) float64 {
	return float64(tokens) * price / 1_000_000
}

func (p Prices) ChatCost(inputTokens, outputTokens int) float64 {
	return perMillion(inputTokens, p.ChatInputPerMillion) + perMillion(outputTokens, p.ChatOutputPerMillion)
}

func (p Prices) EmbeddingCost(tokens int) float64 {
	return perMillion(tokens, p.EmbeddingPerMillion)
}

func (p Prices) OCRCost(pages int) float64 {
	return float64(pages) * p.OCRPerPage
}

func (p Prices) ExtractionCost(pages int) float64 {
	return float64(pages) * p.ExtractionPerPage
}
