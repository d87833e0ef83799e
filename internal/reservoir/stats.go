// Package reservoir implements the two cooperating commuter reservoirs
// (depot-based and route-based) described by the system: bounded,
// single-goroutine-owned containers of waiting Commuters, fed by the
// Poisson spawner and drained by vehicle pickup queries or expiration.
package reservoir

import (
	"sync/atomic"
	"time"
)

// Statistics holds a reservoir's lifecycle counters. All fields are
// atomics so the only cross-goroutine shared mutable state in the
// reservoir subsystem (per the concurrency model) is safe without a
// separate mutex. Reads are always snapshot-only. Spawn, pickup,
// expiry and over-cap counts are incremented on the owning reservoir's
// goroutine; invalid-location and disconnected-pair rejections are
// counted on the caller's goroutine, before any command is posted.
type Statistics struct {
	totalSpawned        atomic.Int64
	totalPickedUp       atomic.Int64
	totalExpired         atomic.Int64
	currentWaiting       atomic.Int64
	droppedOverCap       atomic.Int64
	droppedDisconnected  atomic.Int64
	droppedInvalidLoc    atomic.Int64
	startedAt            time.Time
}

// NewStatistics returns a zeroed Statistics stamped with the current
// time as the reservoir's start.
func NewStatistics() *Statistics {
	return &Statistics{startedAt: time.Now()}
}

// StatsSnapshot is a read-only point-in-time view of Statistics.
type StatsSnapshot struct {
	TotalSpawned        int64
	TotalPickedUp       int64
	TotalExpired        int64
	CurrentWaiting      int64
	DroppedOverCap      int64
	DroppedDisconnected int64
	DroppedInvalidLoc   int64
	Uptime              time.Duration
}

// Snapshot assembles a StatsSnapshot. Property 3 (spec §8) must hold at
// every observation point:
//
//	TotalSpawned == CurrentWaiting + TotalPickedUp + TotalExpired + DroppedOverCap
//
// This holds because a spawn attempt is only counted into TotalSpawned
// once it has passed the connectivity/location checks (those rejects
// land in DroppedDisconnected/DroppedInvalidLoc instead); the remaining
// fate of every counted spawn is exactly one of waiting, picked up,
// expired, or dropped for exceeding the global live-commuter cap.
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalSpawned:        s.totalSpawned.Load(),
		TotalPickedUp:       s.totalPickedUp.Load(),
		TotalExpired:        s.totalExpired.Load(),
		CurrentWaiting:      s.currentWaiting.Load(),
		DroppedOverCap:      s.droppedOverCap.Load(),
		DroppedDisconnected: s.droppedDisconnected.Load(),
		DroppedInvalidLoc:   s.droppedInvalidLoc.Load(),
		Uptime:              time.Since(s.startedAt),
	}
}

func (s *Statistics) recordSpawn()        { s.totalSpawned.Add(1); s.currentWaiting.Add(1) }
func (s *Statistics) recordPickup()       { s.totalPickedUp.Add(1); s.currentWaiting.Add(-1) }
func (s *Statistics) recordExpiry()       { s.totalExpired.Add(1); s.currentWaiting.Add(-1) }
func (s *Statistics) recordOverCap()      { s.totalSpawned.Add(1); s.droppedOverCap.Add(1) }
func (s *Statistics) recordDisconnected() { s.droppedDisconnected.Add(1) }
func (s *Statistics) recordInvalidLoc()   { s.droppedInvalidLoc.Add(1) }

// LiveBudget enforces the cross-reservoir memory bound: the total
// number of live commuters across both the depot and route reservoirs
// is capped (default 10 000); spawns beyond the cap are dropped and
// counted (spec §5). Both reservoirs share a single LiveBudget
// instance.
type LiveBudget struct {
	current atomic.Int64
	max     int64
}

// NewLiveBudget constructs a budget with the given ceiling.
func NewLiveBudget(max int) *LiveBudget {
	return &LiveBudget{max: int64(max)}
}

// TryAcquire attempts to reserve one slot, returning false if the
// budget is already exhausted.
func (b *LiveBudget) TryAcquire() bool {
	for {
		cur := b.current.Load()
		if cur >= b.max {
			return false
		}
		if b.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release frees one slot on pickup or expiration.
func (b *LiveBudget) Release() {
	b.current.Add(-1)
}

// Current returns the live count snapshot.
func (b *LiveBudget) Current() int64 {
	return b.current.Load()
}
