package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDriverHonoursWait(t *testing.T) {
	d := NewDriver(10, zerolog.Nop())
	steps := 0
	d.Add("pairing", TaskFunc(func(now time.Time) Result {
		steps++
		if steps%2 == 0 {
			return Result{Wait: time.Second}
		}
		return Result{}
	}))

	t0 := time.Unix(1000, 0)
	d.tick(t0)                              // step 1, no wait
	d.tick(t0.Add(100 * time.Millisecond)) // step 2, waits 1s
	d.tick(t0.Add(200 * time.Millisecond)) // suspended
	d.tick(t0.Add(900 * time.Millisecond)) // suspended
	if steps != 2 {
		t.Fatalf("steps=%d want 2", steps)
	}
	d.tick(t0.Add(1100 * time.Millisecond))
	if steps != 3 {
		t.Fatalf("steps=%d want 3 after wait elapsed", steps)
	}
}

func TestDriverRunStopsOnCancel(t *testing.T) {
	d := NewDriver(200, zerolog.Nop())
	var steps atomic.Int64
	d.Add("count", TaskFunc(func(time.Time) Result {
		steps.Add(1)
		return Result{}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for steps.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("driver made no progress")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNewDriverDefaultsRate(t *testing.T) {
	if got := NewDriver(0, zerolog.Nop()).Interval(); got != 100*time.Millisecond {
		t.Fatalf("interval=%v", got)
	}
}
