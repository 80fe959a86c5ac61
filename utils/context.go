package utils

import (
	"context"
	"time"
)

// ShortTimeout bounds quick dependency checks such as health pings.
const ShortTimeout = 2 * time.Second

// WithShortTimeout creates a context with short timeout for quick operations
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}
