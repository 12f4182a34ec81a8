package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/prism-chat/prism/internal/log"
)

// RetryConfig configures the retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries      int           // retry budget for rate-limited failures
	InitialInterval time.Duration // initial backoff interval
	MaxInterval     time.Duration // backoff ceiling
	RequestsPerSec  float64       // outbound rate limit, 0 disables
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		RequestsPerSec:  5,
	}
}

// Retrier wraps a Client with bounded retry and outbound rate limiting.
//
// Retry decisions key off the typed error taxonomy: rate-limited failures use
// the full retry budget, timeouts retry once, everything else fails fast.
// Unavailable providers are surfaced immediately with no fallback to another
// provider.
type Retrier struct {
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  log.Logger
}

// NewRetrier builds a retrier. A zero-value cfg gets the defaults.
func NewRetrier(cfg RetryConfig, logger log.Logger) *Retrier {
	if cfg.MaxRetries == 0 && cfg.InitialInterval == 0 {
		cfg = DefaultRetryConfig()
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	return &Retrier{cfg: cfg, limiter: limiter, logger: logger}
}

// retryBudget returns how many retries the failure is worth.
func (r *Retrier) retryBudget(err error) int {
	switch ErrKind(err) {
	case KindRateLimited:
		return r.cfg.MaxRetries
	case KindTimeout:
		return 1
	default:
		return 0
	}
}

// Complete calls c.Complete with bounded retry. Each attempt, including
// retries, passes through the rate limiter.
func (r *Retrier) Complete(ctx context.Context, c Client, req Request) (*Response, error) {
	var lastErr error
	delay := r.cfg.InitialInterval
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := c.Complete(ctx, req)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("provider call succeeded after retry",
					"provider", c.Name(),
					"attempts", attempt+1,
					"elapsed", time.Since(start),
				)
			}
			return resp, nil
		}
		lastErr = err

		if attempt >= r.retryBudget(err) {
			break
		}

		r.logger.Debug("retrying provider call",
			"provider", c.Name(),
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, r.cfg.MaxInterval)
		}
	}
	return nil, lastErr
}

// Stream calls c.Stream through the rate limiter. Stream setup failures
// follow the same retry policy as Complete; failures mid-stream are the
// caller's to surface, a partial stream is never silently restarted.
func (r *Retrier) Stream(ctx context.Context, c Client, req Request) (*Stream, error) {
	var lastErr error
	delay := r.cfg.InitialInterval

	for attempt := 0; ; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		s, err := c.Stream(ctx, req)
		if err == nil {
			return s, nil
		}
		lastErr = err

		if attempt >= r.retryBudget(err) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, r.cfg.MaxInterval)
		}
	}
	return nil, lastErr
}
