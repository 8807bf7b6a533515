package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

// Conflict retry defaults. The blocking operation on the provider side is
// provider-scheduled with a roughly known duration, so the backoff is a
// fixed interval rather than exponential.
const (
	DefaultRetryInterval    = 30 * time.Second
	DefaultRetryMaxAttempts = 10
)

// RetryConfig bounds the conflict retry loop.
type RetryConfig struct {
	// Interval is the fixed sleep between attempts.
	Interval time.Duration

	// MaxAttempts is the total number of attempts before giving up.
	MaxAttempts int

	// Sleep overrides the sleep implementation. Tests inject a recorder
	// here; nil means a context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is invoked before each retry sleep with the attempt number
	// that just failed.
	OnRetry func(attempt int)
}

// withDefaults fills zero fields with the package defaults.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultRetryInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// OnConflict runs fn, retrying only when it fails with a conflict (an
// operation already in flight against the same parent resource). Any other
// error is returned immediately. Exhausting the attempt budget is an error,
// never a silent skip.
func OnConflict(ctx context.Context, cfg RetryConfig, log *telemetry.Logger, fn func(context.Context) error) error {
	cfg = cfg.withDefaults()
	if log == nil {
		log = telemetry.NopLogger()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsConflict(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		log.Warnf("provider operation in progress, retrying in %s (attempt %d/%d)",
			cfg.Interval, attempt, cfg.MaxAttempts)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt)
		}
		if err := cfg.Sleep(ctx, cfg.Interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("conflict retry budget exhausted after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// sleepContext sleeps for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
