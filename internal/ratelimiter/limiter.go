package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Clock abstracts time so tests can run the limiter without waiting.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Window admits at most Limit operations in any rolling interval of length
// Window, shared by every goroutine holding it.
//
// It is a token bucket with burst 1 refilled every Window/Limit, so
// consecutive grants are at least Window/Limit apart and any Limit+1 grants
// span at least Window. Grants are handed out in call order.
type Window struct {
	limit   int
	window  time.Duration
	limiter *rate.Limiter
	clock   Clock // nil uses the limiter's own wall clock
}

// NewWindow creates a limiter admitting limit operations per window.
func NewWindow(limit int, window time.Duration) *Window {
	if limit < 1 {
		limit = 1
	}
	// One extra microsecond per token keeps float rounding in the bucket
	// arithmetic from fitting limit+1 grants into a single window.
	interval := window/time.Duration(limit) + time.Microsecond
	return &Window{
		limit:   limit,
		window:  window,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// WithClock replaces the time source.
func (w *Window) WithClock(c Clock) *Window {
	w.clock = c
	return w
}

// Take blocks until the caller may proceed and returns the granted slot
// time. A non-nil error is returned only if ctx is cancelled while waiting;
// the reservation is then given back.
func (w *Window) Take(ctx context.Context) (time.Time, error) {
	if w.clock == nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return time.Time{}, err
		}
		return time.Now(), nil
	}

	now := w.clock.Now()
	r := w.limiter.ReserveN(now, 1)
	slot := now.Add(r.DelayFrom(now))
	if wait := slot.Sub(now); wait > 0 {
		if err := w.clock.Sleep(ctx, wait); err != nil {
			r.CancelAt(w.clock.Now())
			return slot, err
		}
	}
	return slot, nil
}

// Limit returns the configured maximum per window.
func (w *Window) Limit() int { return w.limit }

// Interval returns the configured window length.
func (w *Window) Interval() time.Duration { return w.window }
