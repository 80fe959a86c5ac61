// Package apperr defines the error taxonomy shared by the ingestion,
// retrieval and chat layers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrExtractionFailure means no extraction strategy produced usable text.
	// Terminal, never retried.
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrEmbeddingFailure is reported per chunk. The chunk is excluded from the
	// index and the document otherwise succeeds.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrRetrievalFailure means the query could not be embedded. The turn
	// proceeds ungrounded.
	ErrRetrievalFailure = errors.New("retrieval failure")

	// ErrProviderRateLimit is returned once the retry budget for a rate
	// limited provider call is exhausted.
	ErrProviderRateLimit = errors.New("provider rate limit")

	// ErrProviderUnavailable is returned while the provider circuit is open.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrSessionNotFound is handled as "create a new session" by callers.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPersistenceFailure means durable state did not update. Retryable.
	ErrPersistenceFailure = errors.New("persistence failure")

	ErrDocumentNotFound = errors.New("document not found")
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrEmptyFile        = errors.New("empty file")
	ErrEmptyPrompt      = errors.New("empty prompt")
	ErrMissingOwner     = errors.New("missing owner")

	// ErrUnsafePrompt means the prompt asked for code execution or system
	// access and was refused before any work was done.
	ErrUnsafePrompt = errors.New("unsafe prompt")
)

// Wrap tags cause with a taxonomy kind and the failing operation so callers
// can match either with errors.Is.
func Wrap(kind error, op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, cause)
}

// Retryable reports whether the caller may safely repeat the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistenceFailure) ||
		errors.Is(err, ErrProviderRateLimit) ||
		errors.Is(err, ErrProviderUnavailable)
}

// HTTPStatus maps an error to the status code used by the API layer.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrEmptyFile), errors.Is(err, ErrMissingOwner),
		errors.Is(err, ErrUnsafePrompt):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrDocumentNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrExtractionFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrProviderRateLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrProviderUnavailable), errors.Is(err, ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRetrievalFailure), errors.Is(err, ErrEmbeddingFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine readable error_code used in API responses.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		return "empty_prompt"
	case errors.Is(err, ErrEmptyFile):
		return "empty_file"
	case errors.Is(err, ErrUnsafePrompt):
		return "unsafe_prompt"
	case errors.Is(err, ErrMissingOwner):
		return "unauthorized"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_file_type"
	case errors.Is(err, ErrDocumentNotFound):
		return "document_not_found"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrExtractionFailure):
		return "extraction_failed"
	case errors.Is(err, ErrProviderRateLimit):
		return "rate_limited"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failed"
	case errors.Is(err, ErrRetrievalFailure):
		return "retrieval_failed"
	case errors.Is(err, ErrEmbeddingFailure):
		return "embedding_failed"
	default:
		return "internal_error"
	}
}
