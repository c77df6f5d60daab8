// Package retry provides a small, explicit backoff policy for transient
// failures. Order placement never goes through here; a failed placement is
// retried by the next dispatch cycle instead.
package retry

import (
	"context"
	"time"

	"github.com/shokooh-rigi/algo-trade/pkg/exchanges/common"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default is the schedule used for market-data and market-sync calls.
var Default = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
	MaxDelay:    60 * time.Second,
}

// Delay returns the wait before the given attempt (0-based). Attempt 0 has
// no wait.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	// 2^30 seconds already exceeds any sane cap.
	if attempt > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * time.Duration(1<<(attempt-1))
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping the schedule between
// attempts. Only transient (network) errors are retried; every other error
// returns immediately.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if wait := p.Delay(attempt); wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !common.IsTransient(err) {
			return err
		}
	}
	return err
}
