package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/logging"
)

// RetryConfig configures retries of GitHub API calls. Zero fields take
// DefaultRetryConfig values.
type RetryConfig struct {
	MaxRetries        int           // 3
	InitialBackoff    time.Duration // 1s
	MaxBackoff        time.Duration // 30s, also caps rate limit waits
	BackoffMultiplier float64       // 2
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2,
	}
}

func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// rateAwareBackOff grows exponentially, except after a rate limited
// response where it waits for the advertised reset.
type rateAwareBackOff struct {
	exp  *backoff.ExponentialBackOff
	last *github.Response
	max  time.Duration
}

func newRateAwareBackOff(cfg *RetryConfig) *rateAwareBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialBackoff
	exp.MaxInterval = cfg.MaxBackoff
	exp.Multiplier = cfg.BackoffMultiplier
	exp.RandomizationFactor = 0
	return &rateAwareBackOff{exp: exp, max: cfg.MaxBackoff}
}

func (b *rateAwareBackOff) NextBackOff() time.Duration {
	if rateLimited(b.last) {
		return rateLimitBackoff(b.last, b.max)
	}
	return b.exp.NextBackOff()
}

func (b *rateAwareBackOff) Reset() {
	b.exp.Reset()
	b.last = nil
}

// withRetry runs op until it succeeds, fails permanently or MaxRetries
// retries are spent. The last response is returned either way.
func withRetry(ctx context.Context, cfg *RetryConfig, logger *logging.Logger, op func() (*github.Response, error)) (*github.Response, error) {
	policy := newRateAwareBackOff(cfg)
	var (
		retries int
		lastErr error
	)

	resp, err := backoff.Retry(ctx, func() (*github.Response, error) {
		resp, err := op()
		policy.last, lastErr = resp, err
		if err != nil && !retryable(ctx, err, resp) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			retries++
			logger.Info(ctx, "retrying GitHub API call",
				zap.Int("attempt", retries),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Int("status_code", statusCode(policy.last)),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)
	if resp == nil {
		resp = policy.last
	}

	switch {
	case err == nil:
		if retries > 0 {
			logger.Info(ctx, "GitHub API call recovered after retries", zap.Int("attempts", retries))
		}
		return resp, nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return nil, fmt.Errorf("operation canceled: %w", err)
	case !retryable(ctx, lastErr, resp):
		return resp, err
	}

	logger.Warn(ctx, "GitHub API call failed after all retries",
		zap.Int("total_attempts", retries+1),
		zap.Int("status_code", statusCode(resp)),
		zap.Error(lastErr),
	)
	return resp, fmt.Errorf("GitHub API call failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// retryable reports whether a failed call may succeed when repeated.
// Transport failures, 5xx and rate limits qualify.
func retryable(ctx context.Context, err error, resp *github.Response) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	code := statusCode(resp)
	return code == 0 || rateLimited(resp) || (code >= 500 && code < 600)
}

// rateLimited covers 429 and the primary-limit 403 with no calls left.
func rateLimited(resp *github.Response) bool {
	switch statusCode(resp) {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	}
	return false
}

// rateLimitBackoff waits until the advertised reset, capped at maxBackoff.
func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || resp.Rate.Reset.IsZero() {
		return maxBackoff
	}
	wait := max(time.Until(resp.Rate.Reset.Time)+time.Second, time.Second)
	return min(wait, maxBackoff)
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.Response.StatusCode
}
