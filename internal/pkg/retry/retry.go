package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/notevault/internal/metrics"
	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

// Config bounds the exponential backoff applied to transient backing store errors.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Do runs fn until it succeeds, returns a non-transient error, or the attempts run out.
// Only errors classified as ErrBackingStoreUnavailable are retried.
func Do(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, cfg, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func DoValue[T any](ctx context.Context, cfg Config, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return DoValueIf(ctx, cfg, op, appErr.IsRetryable, fn)
}

// DoValueIf is DoValue with a caller supplied classification of retryable errors.
func DoValueIf[T any](ctx context.Context, cfg Config, op string, retryable func(err error) bool, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalize()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialBackoff
	policy.MaxInterval = cfg.MaxBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		if !retryable(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			logutil.GetLogger(ctx).Warn("backing store unavailable, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}),
	)
}
