package utils

import (
	"context"
	"math"
	"time"
)

// BackoffStrategy represents a wait strategy between attempts
type BackoffStrategy interface {
	// NextDelay returns the delay for the given attempt number (0-indexed)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff multiplies the delay every attempt up to MaxDelay.
// Jitter is drawn from Rand when it is set.
type ExponentialBackoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Rand       *RandSource
}

// NewExponentialBackoff creates a new exponential backoff strategy
func NewExponentialBackoff(baseDelay, maxDelay time.Duration, multiplier float64, jitter *RandSource) *ExponentialBackoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return &ExponentialBackoff{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
		Rand:       jitter,
	}
}

// NextDelay returns the exponentially increasing delay
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}
	if eb.Rand != nil {
		// between 0.5*delay and 1.5*delay
		delay *= 0.5 + eb.Rand.Float64()
	}
	return time.Duration(delay)
}

// WaitUntil calls probe until it returns nil, sleeping per strategy in between.
// It gives up after maxAttempts probes or when ctx is done and returns the last error.
func WaitUntil(ctx context.Context, strategy BackoffStrategy, maxAttempts int, probe func(context.Context) error) error {
	var err error
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		if err = probe(ctx); err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt == maxAttempts-1 {
			break
		}
		timer := time.NewTimer(strategy.NextDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
