package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

// CheckFunc is one readiness probe. True means the resource reached its
// ready condition; a nil error with false means keep polling.
type CheckFunc func(ctx context.Context) (bool, error)

// Poller drives repeated readiness checks on an entity's declared schedule.
// The entity only answers ready-or-not; the poller owns the delay, the
// attempt budget, and the terminal timeout error.
type Poller struct {
	Policy ReadinessPolicy
	Log    *telemetry.Logger

	// Sleep is replaceable in tests. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller for the given policy. Zero or negative policy
// fields fall back to the defaults.
func NewPoller(policy ReadinessPolicy, log *telemetry.Logger) *Poller {
	if policy.Period <= 0 {
		policy.Period = DefaultReadiness.Period
	}
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultReadiness.Attempts
	}
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Poller{Policy: policy, Log: log}
}

// Run polls check until it reports ready, fails, or the attempt budget runs
// out. Exhaustion returns a not-ready classified error so callers can tell
// a timeout apart from a provider failure.
func (p *Poller) Run(ctx context.Context, check CheckFunc) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepFor
	}

	if p.Policy.InitialDelay > 0 {
		if err := sleep(ctx, p.Policy.InitialDelay); err != nil {
			return err
		}
	}

	for attempt := 1; attempt <= p.Policy.Attempts; attempt++ {
		ready, err := check(ctx)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		p.Log.Debugf("not ready on attempt %d/%d, next check in %s",
			attempt, p.Policy.Attempts, p.Policy.Period)
		if attempt == p.Policy.Attempts {
			break
		}
		if err := sleep(ctx, p.Policy.Period); err != nil {
			return err
		}
	}

	return NewNotReadyError(fmt.Sprintf(
		"resource did not become ready within %d checks over %s",
		p.Policy.Attempts, time.Duration(p.Policy.Attempts)*p.Policy.Period))
}

// sleepFor waits for d or until the context is cancelled.
func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
