package ai

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"document-chat-platform/internal/apperr"
)

// classify maps raw provider errors onto the shared taxonomy. Context
// cancellation by the caller is passed through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, apperr.ErrProviderRateLimit) || errors.Is(err, apperr.ErrProviderUnavailable) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperr.Wrap(apperr.ErrProviderUnavailable, op, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return apperr.Wrap(apperr.ErrProviderRateLimit, op, err)
		case gerr.Code >= http.StatusInternalServerError:
			return apperr.Wrap(apperr.ErrProviderUnavailable, op, err)
		}
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return apperr.Wrap(apperr.ErrProviderRateLimit, op, err)
		case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return apperr.Wrap(apperr.ErrProviderUnavailable, op, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.ErrProviderUnavailable, op, err)
	}
	return err
}

// IsRateLimited reports whether err came from provider throttling.
func IsRateLimited(err error) bool {
	return errors.Is(err, apperr.ErrProviderRateLimit)
}

// isBreakerFailure decides which errors count against the circuit. Client
// side cancellation and bad requests do not.
func isBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return apperr.Retryable(classify("", err))
}
