package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// backoffMultiplier is the growth factor between successive waits.
const backoffMultiplier = 2

// ErrRateLimited marks a transient quota/rate exhaustion reported by a provider.
var ErrRateLimited = errors.New("rate limited")

// RetryConfig holds configuration for the rate-limit backoff.
type RetryConfig struct {
	MaxRetries   int           // Attempt ceiling, including the first attempt
	InitialDelay time.Duration // Wait before the second attempt
}

// DefaultRetryConfig returns the default policy: 5 attempts, 1s initial wait.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: time.Second,
	}
}

// Delay returns the wait applied after the failed attempt with the given
// zero-based index: InitialDelay * 2^attempt.
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := c.InitialDelay
	for i := 0; i < attempt; i++ {
		d *= backoffMultiplier
	}
	return d
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	return c
}

// Sleeper suspends the caller between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepFunc adapts a function to the Sleeper interface.
type SleepFunc func(ctx context.Context, d time.Duration) error

func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper waits on a real timer and returns early if ctx is cancelled.
var TimerSleeper Sleeper = SleepFunc(func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// IsRateLimited reports whether err is a transient rate-limit failure: either
// ErrRateLimited is in its chain, or some error in the chain says so through
// a RateLimited() bool method.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var rl interface{ RateLimited() bool }
	return errors.As(err, &rl) && rl.RateLimited()
}

// RetryObserver is notified before each backoff wait.
// attempt is the 1-based number of the attempt that just failed.
type RetryObserver func(attempt int, wait time.Duration, err error)

// Backoff retries operations that fail with a transient rate-limit error.
// It is immutable after construction and safe for concurrent use.
type Backoff struct {
	cfg     RetryConfig
	sleeper Sleeper
	logger  *zap.Logger
}

// BackoffOption customizes a Backoff.
type BackoffOption func(*Backoff)

// WithSleeper replaces the timer used between attempts.
func WithSleeper(s Sleeper) BackoffOption {
	return func(b *Backoff) {
		if s != nil {
			b.sleeper = s
		}
	}
}

// WithLogger sets the logger used for backoff warnings.
func WithLogger(l *zap.Logger) BackoffOption {
	return func(b *Backoff) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBackoff creates a Backoff. Zero fields in cfg take their defaults.
func NewBackoff(cfg RetryConfig, opts ...BackoffOption) *Backoff {
	b := &Backoff{
		cfg:     cfg.withDefaults(),
		sleeper: TimerSleeper,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Config returns the effective retry configuration.
func (b *Backoff) Config() RetryConfig { return b.cfg }

// Do runs op until it succeeds, fails with a non-transient error, or has
// failed MaxRetries times in a row with a rate-limit error. In the last case
// the final error is returned as is. Attempts never overlap.
//
// observe may be nil.
func Do[T any](ctx context.Context, b *Backoff, observe RetryObserver, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				b.logger.Info("provider call succeeded after backoff", zap.Int("attempts", attempt+1))
			}
			return v, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		if attempt+1 >= b.cfg.MaxRetries {
			b.logger.Warn("rate limit retries exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return zero, err
		}

		wait := b.cfg.Delay(attempt)
		b.logger.Warn("rate limited by provider, backing off",
			zap.Duration("wait", wait),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", b.cfg.MaxRetries),
		)
		if observe != nil {
			observe(attempt+1, wait, err)
		}
		if serr := b.sleeper.Sleep(ctx, wait); serr != nil {
			return zero, fmt.Errorf("retry: context cancelled during backoff: %w", serr)
		}
	}
}
