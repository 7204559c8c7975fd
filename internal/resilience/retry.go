package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is an exponential backoff policy.
type RetryConfig struct {
	// MaxAttempts counts the first call. 1 disables retries.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// JitterFraction spreads each delay by up to plus or minus this share.
	JitterFraction float64
	// OnRetry is called with the attempt number that just failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is the policy for collaborator HTTP calls: three
// attempts starting at 500ms, doubling up to 30s, with 25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.25,
	}
}

// RetryPolicy returns DefaultRetryConfig with any positive override applied.
func RetryPolicy(maxAttempts int, initial, maxBackoff time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		cfg.InitialBackoff = initial
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	return cfg
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	c.JitterFraction = math.Max(0, math.Min(c.JitterFraction, 1))
	return c
}

// Backoff is the delay after the zero-based attempt. The validation queue
// also uses it to schedule a task's next claim.
func Backoff(attempt int, cfg RetryConfig) time.Duration {
	cfg = cfg.withDefaults()

	d := float64(cfg.InitialBackoff)
	for i := 0; i < attempt && d < float64(cfg.MaxBackoff); i++ {
		d *= cfg.Multiplier
	}
	d = math.Min(d, float64(cfg.MaxBackoff))

	if cfg.JitterFraction > 0 {
		d *= 1 + cfg.JitterFraction*(2*rand.Float64()-1)
	}
	return time.Duration(d)
}

// DoVal calls fn until it succeeds, fails with a non-transient error, runs
// out of attempts or ctx is done. The last error is returned as is.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= cfg.MaxAttempts || ctx.Err() != nil || !IsTransient(err) {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, Backoff(attempt-1, cfg)) {
			return zero, err
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry hook that logs at warn level.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying collaborator call",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
