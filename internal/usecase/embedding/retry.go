// Package embedding holds decorators composed around the base embedding
// provider in main.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

// RetryingEmbedder retries transient provider failures (throttling, upstream
// errors) with exponential backoff. Authentication failures are never
// retried.
type RetryingEmbedder struct {
	inner          domain.Embedder
	maxAttempts    int
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewRetryingEmbedder creates a retry decorator. maxAttempts counts the
// first call, so 3 means up to 2 retries.
func NewRetryingEmbedder(
	inner domain.Embedder,
	maxAttempts int,
	initialBackoff time.Duration,
	logger *zap.Logger,
) *RetryingEmbedder {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingEmbedder{
		inner:          inner,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		logger:         logger,
	}
}

// Embed implements domain.Embedder.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	var result domain.EmbeddingResult
	err := r.run(ctx, func() error {
		var innerErr error
		result, innerErr = r.inner.Embed(ctx, text)
		return innerErr
	})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return result, nil
}

// BatchEmbed implements domain.BatchEmbedder, falling back to per-text calls
// when the inner embedder has no native batch support.
func (r *RetryingEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var result domain.BatchEmbeddingResult
	err := r.run(ctx, func() error {
		var innerErr error
		if be, ok := r.inner.(domain.BatchEmbedder); ok {
			result, innerErr = be.BatchEmbed(ctx, texts)
		} else {
			result, innerErr = domain.BatchFallback(ctx, r.inner, texts)
		}
		return innerErr
	})
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	return result, nil
}

func (r *RetryingEmbedder) run(ctx context.Context, call func() error) error {
	backoff := r.initialBackoff

	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= r.maxAttempts {
			return err
		}

		r.logger.Warn("Retrying embedding request",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("embed canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrEmbeddingProvider)
}
