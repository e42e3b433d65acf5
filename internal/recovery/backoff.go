package recovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential delays between attempts.
type Backoff struct {
	base time.Duration
	max  time.Duration
}

// NewBackoff builds a Backoff; zero values fall back to 250ms and 5s.
func NewBackoff(base, maxDelay time.Duration) Backoff {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return Backoff{base: base, max: maxDelay}
}

// Delay returns the wait before retry number attempt (0-based). The result
// lies in [d/2, d) where d is base*2^attempt capped at max.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.base) * math.Pow(2, float64(attempt))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Pauser suspends the caller between attempts.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPause sleeps on a timer and wakes early on cancellation.
type TimerPause struct{}

// Pause implements Pauser.
func (TimerPause) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
