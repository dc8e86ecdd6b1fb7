package compliance

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = time.Second
)

// Backoff is the retry schedule of the fetch primitive: a fixed number of
// attempts with an exponentially growing sleep between them.
type Backoff struct {
	MaxAttempts int
	Initial     time.Duration
}

// NewBackoff applies defaults to zero fields.
func NewBackoff(maxAttempts int, initial time.Duration) Backoff {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	return Backoff{MaxAttempts: maxAttempts, Initial: initial}
}

// Delay returns the sleep after the given 1-based attempt failed:
// Initial, 2*Initial, 4*Initial, ...
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return b.Initial << (attempt - 1)
}

// ShouldRetry reports whether another attempt follows the given one.
func (b Backoff) ShouldRetry(attempt int) bool {
	return attempt < b.MaxAttempts
}

// Sleeper pauses between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer and aborts on context cancellation.
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
