// Package retry provides exponential backoff with jitter for reconnect
// scheduling and sink delivery retries.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Config provides backoff configuration.
type Config struct {
	MaxAttempts int           // total attempts; <=0 means a single attempt
	Base        time.Duration // delay before the second attempt
	Max         time.Duration // cap on the delay
	Multiplier  float64       // growth factor, typically 2.0
	Jitter      bool          // add up to 25% random jitter to each delay
}

// Backoff is a stateful delay generator. It is not safe for concurrent use;
// each caller owns its own instance.
type Backoff struct {
	cfg  Config
	next time.Duration
}

func NewBackoff(cfg Config) *Backoff {
	if cfg.Base <= 0 {
		cfg.Base = 500 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	return &Backoff{cfg: cfg, next: cfg.Base}
}

// Next returns the delay to sleep before the next attempt and advances the
// internal state.
func (b *Backoff) Next() time.Duration {
	d := b.next

	grown := float64(b.next) * b.cfg.Multiplier
	if grown > float64(b.cfg.Max) {
		b.next = b.cfg.Max
	} else {
		b.next = time.Duration(grown)
	}

	if b.cfg.Jitter && d > 0 {
		randMu.Lock()
		d += time.Duration(randSource.Int63n(int64(d/4) + 1))
		randMu.Unlock()
	}
	if d > b.cfg.Max {
		d = b.cfg.Max
	}
	return d
}

// Reset restarts the progression from the base delay.
func (b *Backoff) Reset() { b.next = b.cfg.Base }

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. It stops early when ctx is cancelled and returns the last error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	b := NewBackoff(cfg)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if err := Sleep(ctx, b.Next()); err != nil {
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, err)
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", attempts, lastErr)
}
