package qdrant

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retry runs fn until it succeeds, fails with a non-transient error, or
// RetryAttempts retries have been spent. The delay starts at RetryBackoff
// and doubles.
func (c *GRPCClient) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.RetryBackoff
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaultRetryBackoff
	}
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = policy.InitialInterval << 6

	var (
		retries int
		lastErr error
		start   = time.Now()
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		lastErr = err
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.config.RetryAttempts+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			retries++
			c.logger.Debug(ctx, "retrying operation after transient error",
				zap.String("operation", op),
				zap.Int("attempt", retries),
				zap.Int("max_attempts", c.config.RetryAttempts),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)

	switch {
	case err == nil:
		if retries > 0 {
			c.logger.Info(ctx, "operation recovered after retries",
				zap.String("operation", op),
				zap.Int("attempts", retries),
				zap.Duration("total_time", time.Since(start)),
			)
		}
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("%s canceled: %w", op, ctx.Err())
	case lastErr == nil || !isTransient(err):
		return err
	}

	c.logger.Warn(ctx, "operation failed after all retries exhausted",
		zap.String("operation", op),
		zap.Int("total_attempts", retries+1),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(err),
	)
	return fmt.Errorf("%s failed after %d retries: %w", op, c.config.RetryAttempts, err)
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	st, ok := status.FromError(err)
	if err == nil || !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	}
	return false
}
