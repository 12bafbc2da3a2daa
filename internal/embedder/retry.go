package embedder

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxRetries int           // maximum number of attempts
	BaseDelay  time.Duration // initial delay between attempts
	MaxDelay   time.Duration // delay cap
	Multiplier float64       // backoff growth per attempt
}

// DefaultRetryConfig returns the standard query-path retry policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff executes fn with exponential backoff between failures.
// Retry stops as soon as ctx is done.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay
	attempts := config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt < attempts-1 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}

// QueryEmbedder embeds search queries through the single-text path with
// retry. Bulk indexing goes through Pipeline instead and is not retried.
type QueryEmbedder struct {
	embedder Embedder
	retry    RetryConfig
}

// NewQueryEmbedder wraps e with the given retry policy
func NewQueryEmbedder(e Embedder, retry RetryConfig) *QueryEmbedder {
	return &QueryEmbedder{embedder: e, retry: retry}
}

// EmbedQuery returns the vector for a query string
func (q *QueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	emb, err := retryWithBackoff(ctx, q.retry, func() (*Embedding, error) {
		return q.embedder.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return emb.Vector, nil
}

// Dimension returns the wrapped provider's dimension
func (q *QueryEmbedder) Dimension() int {
	return q.embedder.Dimension()
}
