package entity

import (
	"context"
	"errors"
	"testing"
	"time"
)

// recordSleep replaces the poller sleep with a recorder
func recordSleep(record *[]time.Duration) func(ctx context.Context, d time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*record = append(*record, d)
		return nil
	}
}

// TestPollerConvergence tests that polling stops at the first ready result
func TestPollerConvergence(t *testing.T) {
	var sleeps []time.Duration
	p := NewPoller(ReadinessPolicy{
		Period:       10 * time.Second,
		InitialDelay: 5 * time.Second,
		Attempts:     10,
	}, nil)
	p.Sleep = recordSleep(&sleeps)

	checks := 0
	err := p.Run(context.Background(), func(context.Context) (bool, error) {
		checks++
		return checks == 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checks != 3 {
		t.Errorf("expected 3 checks, got %d", checks)
	}

	// Initial delay plus two period sleeps between the three checks.
	if len(sleeps) != 3 {
		t.Fatalf("expected 3 sleeps, got %d: %v", len(sleeps), sleeps)
	}
	if sleeps[0] != 5*time.Second {
		t.Errorf("expected initial delay first, got %s", sleeps[0])
	}
	if sleeps[1] != 10*time.Second || sleeps[2] != 10*time.Second {
		t.Errorf("expected period sleeps, got %v", sleeps[1:])
	}
}

// TestPollerExhaustion tests the attempt budget and the not-ready error
func TestPollerExhaustion(t *testing.T) {
	var sleeps []time.Duration
	p := NewPoller(ReadinessPolicy{
		Period:   time.Second,
		Attempts: 4,
	}, nil)
	p.Sleep = recordSleep(&sleeps)

	checks := 0
	err := p.Run(context.Background(), func(context.Context) (bool, error) {
		checks++
		return false, nil
	})
	if !IsNotReady(err) {
		t.Fatalf("expected not-ready error, got %v", err)
	}
	if checks != 4 {
		t.Errorf("expected exactly 4 checks, got %d", checks)
	}
	// No sleep after the final check.
	if len(sleeps) != 3 {
		t.Errorf("expected 3 sleeps, got %d", len(sleeps))
	}
}

// TestPollerCheckErrorFailsFast tests that a check failure aborts polling
func TestPollerCheckErrorFailsFast(t *testing.T) {
	p := NewPoller(ReadinessPolicy{Period: time.Second, Attempts: 10}, nil)
	p.Sleep = recordSleep(&[]time.Duration{})

	boom := NewPermanentError("operation failed", nil)
	checks := 0
	err := p.Run(context.Background(), func(context.Context) (bool, error) {
		checks++
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected check error back, got %v", err)
	}
	if checks != 1 {
		t.Errorf("expected 1 check, got %d", checks)
	}
}

// TestPollerContextCancel tests cancellation during the sleep
func TestPollerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPoller(ReadinessPolicy{
		Period:       time.Hour,
		InitialDelay: time.Hour,
		Attempts:     5,
	}, nil)

	err := p.Run(ctx, func(context.Context) (bool, error) {
		t.Fatal("check must not run after cancellation")
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// TestPollerDefaults tests zero-policy fallback
func TestPollerDefaults(t *testing.T) {
	p := NewPoller(ReadinessPolicy{}, nil)
	if p.Policy.Period != DefaultReadiness.Period {
		t.Errorf("expected default period, got %s", p.Policy.Period)
	}
	if p.Policy.Attempts != DefaultReadiness.Attempts {
		t.Errorf("expected default attempts, got %d", p.Policy.Attempts)
	}
}
