package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls RetryClient backoff.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig returns the backoff used by the server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     8 * time.Second,
		Multiplier:  2,
	}
}

// RetryClient is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryClient struct {
	inner  Client
	config RetryConfig
	logger *zap.Logger
}

// WithRetry wraps a Client with retry logic.
func WithRetry(c Client, cfg RetryConfig, logger *zap.Logger) *RetryClient {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryClient{inner: c, config: cfg, logger: logger}
}

// GenerateContent retries the inner client's GenerateContent.
func (r *RetryClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return r.do(ctx, tier, func() (string, error) {
		return r.inner.GenerateContent(ctx, prompt, tier)
	})
}

// GenerateJSON retries the inner client's GenerateJSON.
func (r *RetryClient) GenerateJSON(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return r.do(ctx, tier, func() (string, error) {
		return r.inner.GenerateJSON(ctx, prompt, tier)
	})
}

// GetModel delegates to the inner client.
func (r *RetryClient) GetModel(tier ModelTier) string {
	return r.inner.GetModel(tier)
}

// Close delegates to the inner client.
func (r *RetryClient) Close() error {
	return r.inner.Close()
}

func (r *RetryClient) do(ctx context.Context, tier ModelTier, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := range r.config.MaxAttempts {
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(err) || attempt == r.config.MaxAttempts-1 {
			break
		}

		wait := r.backoff(attempt, err)
		r.logger.Warn("llm call failed, retrying",
			zap.String("model", r.inner.GetModel(tier)),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rejected *ErrRequestRejected
	if errors.As(err, &rejected) {
		return false
	}
	var rl *ErrRateLimit
	var unavail *ErrProviderUnavailable
	var empty *ErrEmptyResponse
	return errors.As(err, &rl) || errors.As(err, &unavail) || errors.As(err, &empty)
}

// backoff computes the wait duration for the given attempt.
func (r *RetryClient) backoff(attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	wait := float64(r.config.InitialWait) * math.Pow(r.config.Multiplier, float64(attempt))
	if r.config.MaxWait > 0 && wait > float64(r.config.MaxWait) {
		wait = float64(r.config.MaxWait)
	}

	// ±20% jitter
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}
