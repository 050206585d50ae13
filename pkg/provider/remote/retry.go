package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/marmos91/cloudnbd/pkg/provider"
)

// maxRetryAttempts bounds the number of attempts a RetryingBackend makes
// before giving up and surfacing provider.ErrUnavailable. The source system
// this is modeled on retried in an unbounded loop on every transient error;
// that risks a connection wedged forever on a permanently unreachable
// store, so this is capped.
const maxRetryAttempts = 8

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // bounded by attempt count below, not elapsed time
	// The first attempt plus maxRetryAttempts-1 retries.
	return backoff.WithMaxRetries(b, maxRetryAttempts-1)
}

// RetryingBackend wraps another Backend with bounded exponential backoff
// retry on every call, per-block.
type RetryingBackend struct {
	inner      Backend
	newBackOff func() backoff.BackOff
}

// WithRetry wraps inner so every FetchBlock/UploadBlock call retries with
// bounded exponential backoff (1s up to 30s, 8 attempts) instead of failing
// on the first transient error.
func WithRetry(inner Backend) *RetryingBackend {
	return &RetryingBackend{inner: inner, newBackOff: newBackOff}
}

// withRetryBackOff is the same as WithRetry but lets tests substitute a
// faster backoff policy so retry exhaustion doesn't take real minutes.
func withRetryBackOff(inner Backend, factory func() backoff.BackOff) *RetryingBackend {
	return &RetryingBackend{inner: inner, newBackOff: factory}
}

func (r *RetryingBackend) FetchBlock(ctx context.Context, blockID int64, buf []byte) error {
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = r.inner.FetchBlock(ctx, blockID, buf)
		return lastErr
	}, backoff.WithContext(r.newBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, errors.Join(lastErr, err))
	}
	return nil
}

func (r *RetryingBackend) UploadBlock(ctx context.Context, blockID int64, buf []byte) error {
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = r.inner.UploadBlock(ctx, blockID, buf)
		return lastErr
	}, backoff.WithContext(r.newBackOff(), ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrUnavailable, errors.Join(lastErr, err))
	}
	return nil
}

var _ Backend = (*RetryingBackend)(nil)
