package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseWait   = 500 * time.Millisecond
	DefaultMaxWait    = 10 * time.Second
)

// Options controls retry behavior
type Options struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
}

// Option mutates Options
type Option func(*Options)

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Later waits double.
func WithBaseWait(d time.Duration) Option {
	return func(o *Options) { o.BaseWait = d }
}

// WithMaxWait caps the wait between attempts
func WithMaxWait(d time.Duration) Option {
	return func(o *Options) { o.MaxWait = d }
}

// Do calls fn until it succeeds, returns a non-recoverable error, the
// context is done, or the retry budget is spent. The last error is returned.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	options := Options{
		MaxRetries: DefaultMaxRetries,
		BaseWait:   DefaultBaseWait,
		MaxWait:    DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= options.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(options, attempt)):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRecoverable(err) {
			return err
		}
	}
	return lastErr
}

// backoff returns the exponential wait before the given attempt, with up to
// 10% jitter
func backoff(options Options, attempt int) time.Duration {
	wait := time.Duration(float64(options.BaseWait) * math.Pow(2, float64(attempt-1)))
	if options.MaxWait > 0 && wait > options.MaxWait {
		wait = options.MaxWait
	}
	jitter := time.Duration(rand.Float64() * float64(wait) * 0.1)
	return wait + jitter
}
