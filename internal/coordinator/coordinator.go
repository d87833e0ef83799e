// Package coordinator drives the two periodic hooks that keep a
// reservoir moving without anyone polling it: expiration sweeps and
// Poisson spawn batches. Both coordinators are thin wrappers around
// github.com/go-co-op/gocron/v2 — a real scheduler rather than a
// hand-rolled time.Ticker loop — so that rescheduling, graceful
// shutdown, and panic-isolated job execution come from a maintained
// library instead of bespoke code.
package coordinator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// ExpirationCoordinator periodically invokes a reservoir's expire_tick
// hook. The default interval is 10 seconds; the expiration threshold
// itself lives on each commuter's MaxWait, never on the coordinator.
type ExpirationCoordinator struct {
	scheduler gocron.Scheduler
	hook      func(now time.Time)
	interval  time.Duration

	mu      sync.Mutex
	started bool
}

// NewExpirationCoordinator builds a coordinator that calls hook on
// every tick. It does not start the underlying scheduler.
func NewExpirationCoordinator(interval time.Duration, hook func(now time.Time)) (*ExpirationCoordinator, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &ExpirationCoordinator{scheduler: sched, hook: hook, interval: interval}, nil
}

// Start registers the recurring job and launches the scheduler.
// Idempotent: calling Start on an already-running coordinator is a
// no-op.
func (c *ExpirationCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	_, err := c.scheduler.NewJob(
		gocron.DurationJob(c.interval),
		gocron.NewTask(c.runTick),
	)
	if err != nil {
		return err
	}
	c.scheduler.Start()
	c.started = true
	return nil
}

// runTick wraps the hook so a panic inside a single expiration pass is
// logged and the coordinator keeps running, rather than killing the
// scheduler's worker goroutine (spec: coordinators must survive
// exceptions in callbacks).
func (c *ExpirationCoordinator) runTick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[expiration-coordinator] ERROR: recovered panic in expire_tick hook: %v", r)
		}
	}()
	c.hook(time.Now())
}

// Stop gracefully shuts the scheduler down. Idempotent.
func (c *ExpirationCoordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.scheduler.Shutdown()
}

// IntervalSource supplies the spawning coordinator's interval,
// re-read on every tick so an operator can change the cadence without
// restarting the process (spec.md: "configurable at runtime via the
// data-source's config endpoint").
type IntervalSource func() time.Duration

// SpawningCoordinator periodically asks a batch producer for a fresh
// set of SpawnRequests and feeds each one into a reservoir-supplied
// callback. It is deliberately reservoir-agnostic: the same
// coordinator type drives both the depot and the route spawning
// loops, parameterized only by the callback it is given.
type SpawningCoordinator struct {
	scheduler    gocron.Scheduler
	produce      func(now time.Time) int // runs one batch, returns count fed
	intervalFn   IntervalSource
	baseInterval time.Duration

	mu           sync.Mutex
	started      bool
	jobID        uuid.UUID
	lastInterval time.Duration
}

// NewSpawningCoordinator builds a coordinator around produce, a
// closure that generates one batch (via the Poisson spawner) and
// hands each request to a reservoir's SpawnCommuter, returning how
// many were accepted. intervalFn may be nil, in which case the
// coordinator uses a fixed interval.
func NewSpawningCoordinator(defaultInterval time.Duration, intervalFn IntervalSource, produce func(now time.Time) int) (*SpawningCoordinator, error) {
	if defaultInterval <= 0 {
		defaultInterval = 30 * time.Second
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &SpawningCoordinator{
		scheduler:    sched,
		produce:      produce,
		intervalFn:   intervalFn,
		baseInterval: defaultInterval,
	}, nil
}

func (c *SpawningCoordinator) currentInterval() time.Duration {
	if c.intervalFn == nil {
		return c.baseInterval
	}
	if d := c.intervalFn(); d > 0 {
		return d
	}
	return c.baseInterval
}

// Start registers the recurring spawning job and launches the
// scheduler. Idempotent.
func (c *SpawningCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.lastInterval = c.currentInterval()
	job, err := c.scheduler.NewJob(
		gocron.DurationJob(c.lastInterval),
		gocron.NewTask(c.runBatch),
	)
	if err != nil {
		return err
	}
	c.jobID = job.ID()
	c.scheduler.Start()
	c.started = true
	return nil
}

// runBatch produces one spawn batch and, before returning, checks
// whether the operator-configured interval has changed since the last
// tick; if so it updates the underlying job's schedule rather than
// waiting for a restart, satisfying the "configurable at runtime"
// requirement without tearing down the scheduler.
func (c *SpawningCoordinator) runBatch() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[spawning-coordinator] ERROR: recovered panic in spawn batch: %v", r)
		}
	}()
	n := c.produce(time.Now())
	log.Printf("[spawning-coordinator] spawned %d commuters this tick", n)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	next := c.currentInterval()
	if next == c.lastInterval {
		return
	}
	if _, err := c.scheduler.Update(c.jobID, gocron.DurationJob(next), gocron.NewTask(c.runBatch)); err != nil {
		log.Printf("[spawning-coordinator] WARN: failed to apply new interval %s: %v", next, err)
		return
	}
	c.lastInterval = next
}

// Stop gracefully shuts the scheduler down. Idempotent.
func (c *SpawningCoordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.scheduler.Shutdown()
}
