// Package governor paces calls to the scoring service.
package governor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdholdren/debrief/internal/debrief"
)

var (
	_ debrief.Governor = (*Fixed)(nil)
	_ debrief.Governor = (*Bucket)(nil)
)

// Fixed waits a short delay between calls, and a longer cooldown after every
// Nth call.
//
// The wait is served at the start of the next turn, so nothing waits after the
// last call.
type Fixed struct {
	delay    time.Duration
	cooldown time.Duration
	every    int

	mu      sync.Mutex
	calls   int
	pending time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFixed creates a Fixed governor. An every below 1 disables the cooldown.
func NewFixed(delay, cooldown time.Duration, every int) *Fixed {
	return &Fixed{
		delay:    delay,
		cooldown: cooldown,
		every:    every,
		sleep:    sleep,
	}
}

// AwaitTurn blocks for whatever delay the previous call left behind.
func (f *Fixed) AwaitTurn(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pending <= 0 {
		return ctx.Err()
	}

	if err := f.sleep(ctx, f.pending); err != nil {
		return err
	}
	f.pending = 0

	return nil
}

// RecordCall schedules the delay owed before the next call.
func (f *Fixed) RecordCall() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.pending = f.delayAfter(f.calls)
}

// Returns the delay that follows the nth call.
func (f *Fixed) delayAfter(n int) time.Duration {
	if f.every > 0 && n%f.every == 0 {
		return f.cooldown
	}
	return f.delay
}

// Bucket is a token bucket allowing a steady number of calls per minute.
type Bucket struct {
	limiter *rate.Limiter
}

// NewBucket creates a Bucket that allows perMinute calls a minute with no burst.
func NewBucket(perMinute int) *Bucket {
	if perMinute < 1 {
		perMinute = 1
	}

	return &Bucket{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

// AwaitTurn blocks until a token is available.
func (b *Bucket) AwaitTurn(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// RecordCall is a no-op, tokens are taken in AwaitTurn.
func (b *Bucket) RecordCall() {}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
