package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

type Config struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var Default = Config{
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  30 * time.Second,
}

// Exponential returns BaseDelay doubled per attempt, capped at MaxDelay.
// Attempt 0 is the wait before the first retry.
func Exponential(attempt int, cfg Config) time.Duration {
	if attempt <= 0 || cfg.BaseDelay <= 0 {
		return min(cfg.BaseDelay, cfg.MaxDelay)
	}
	if attempt > 30 {
		return cfg.MaxDelay
	}
	return min(cfg.BaseDelay*time.Duration(1<<attempt), cfg.MaxDelay)
}

// FullJitter spreads the exponential delay over [exp/2, exp).
func FullJitter(attempt int, cfg Config) time.Duration {
	exp := Exponential(attempt, cfg)
	if exp <= 1 {
		return exp
	}
	half := exp / 2
	return half + rand.N(exp-half)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
