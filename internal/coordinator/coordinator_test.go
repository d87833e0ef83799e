package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestExpirationCoordinator_InvokesHookPeriodically(t *testing.T) {
	var calls atomic.Int64
	c, err := NewExpirationCoordinator(20*time.Millisecond, func(now time.Time) {
		calls.Add(1)
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop()

	time.Sleep(100 * time.Millisecond)
	if calls.Load() < 2 {
		t.Errorf("expected at least 2 ticks in 100ms at 20ms interval, got %d", calls.Load())
	}
}

func TestExpirationCoordinator_StartStopIdempotent(t *testing.T) {
	c, err := NewExpirationCoordinator(time.Second, func(time.Time) {})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("first start failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got error: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got error: %v", err)
	}
}

func TestExpirationCoordinator_SurvivesPanicInHook(t *testing.T) {
	var calls atomic.Int64
	c, err := NewExpirationCoordinator(15*time.Millisecond, func(time.Time) {
		calls.Add(1)
		panic("boom")
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer c.Stop()

	time.Sleep(80 * time.Millisecond)
	if calls.Load() < 2 {
		t.Errorf("expected the coordinator to keep ticking after a panicking hook, got %d calls", calls.Load())
	}
}

func TestSpawningCoordinator_ProducesBatches(t *testing.T) {
	var batches atomic.Int64
	sc, err := NewSpawningCoordinator(20*time.Millisecond, nil, func(now time.Time) int {
		batches.Add(1)
		return 3
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sc.Stop()

	time.Sleep(100 * time.Millisecond)
	if batches.Load() < 2 {
		t.Errorf("expected multiple spawn batches, got %d", batches.Load())
	}
}

func TestSpawningCoordinator_IntervalSourceOverridesDefault(t *testing.T) {
	var dynamicInterval atomic.Int64
	dynamicInterval.Store(int64(15 * time.Millisecond))

	var batches atomic.Int64
	sc, err := NewSpawningCoordinator(time.Hour, func() time.Duration {
		return time.Duration(dynamicInterval.Load())
	}, func(now time.Time) int {
		batches.Add(1)
		return 0
	})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := sc.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer sc.Stop()

	time.Sleep(100 * time.Millisecond)
	if batches.Load() < 2 {
		t.Errorf("expected the runtime-configurable interval to override the one-hour default, got %d batches", batches.Load())
	}
}
