package ratelimiter_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/platepulse/recommender/internal/ratelimiter"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	advance bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.advance {
		c.mu.Lock()
		if target := c.now.Add(d); target.After(c.now) {
			c.now = target
		}
		c.mu.Unlock()
	}
	return nil
}

func assertWindow(t *testing.T, slots []time.Time, limit int, window time.Duration) {
	t.Helper()
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	for i := limit; i < len(slots); i++ {
		if gap := slots[i].Sub(slots[i-limit]); gap < window {
			t.Fatalf("slots %d and %d are %v apart: more than %d in a %v window", i-limit, i, gap, limit, window)
		}
	}
}

func TestWindow_NeverExceedsLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), advance: true}
	w := ratelimiter.NewWindow(50, time.Minute).WithClock(clock)
	ctx := context.Background()

	start := clock.Now()
	slots := make([]time.Time, 0, 200)
	for i := 0; i < 200; i++ {
		slot, err := w.Take(ctx)
		if err != nil {
			t.Fatal(err)
		}
		slots = append(slots, slot)
	}

	assertWindow(t, slots, 50, time.Minute)

	// 200 sends at 50/min are spaced 1.2s apart after the first.
	elapsed := clock.Now().Sub(start)
	if want := 199 * 1200 * time.Millisecond; elapsed < want || elapsed > want+time.Millisecond {
		t.Fatalf("expected about %v of waiting, got %v", want, elapsed)
	}
}

func TestWindow_SpacesConsecutiveTakes(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), advance: true}
	w := ratelimiter.NewWindow(5, time.Second).WithClock(clock)
	start := clock.Now()

	first, _ := w.Take(context.Background())
	if !first.Equal(start) {
		t.Fatalf("first take should not wait, got %v", first.Sub(start))
	}
	second, _ := w.Take(context.Background())
	if gap := second.Sub(first); gap < 200*time.Millisecond || gap > 201*time.Millisecond {
		t.Fatalf("expected takes 200ms apart, got %v", gap)
	}
}

// TestWindow_SharedAcrossGoroutines verifies the guarantee holds when many
// workers take from the same limiter concurrently.
func TestWindow_SharedAcrossGoroutines(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := ratelimiter.NewWindow(50, time.Minute).WithClock(clock)

	var mu sync.Mutex
	var slots []time.Time
	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 40; i++ {
				slot, err := w.Take(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				slots = append(slots, slot)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(slots) != 200 {
		t.Fatalf("expected 200 slots, got %d", len(slots))
	}
	assertWindow(t, slots, 50, time.Minute)
}

func TestWindow_CancelledWhileWaiting(t *testing.T) {
	w := ratelimiter.NewWindow(1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := w.Take(ctx); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := w.Take(ctx)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Take did not return after cancellation")
	}
}
