package reservoir

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arknet/commuter-reservoir/internal/model"
	"github.com/arknet/commuter-reservoir/pkg/geo"
)

type depotRouteKey struct {
	depotID   string
	routeName string
}

// DepotReservoir holds one FIFO waiting queue per (depot, route) pair.
// All mutation happens exclusively inside the single goroutine started
// by Start; every public method posts a closure onto cmdCh and waits
// for it to run, so callers never touch the queues directly (spec §5:
// cooperative, single-logical-thread per reservoir).
type DepotReservoir struct {
	cmdCh chan func()
	stopCh chan struct{}
	stoppedCh chan struct{}
	startOnce sync.Once

	queues map[depotRouteKey]*DepotQueue
	// connectedDepots maps a route to every depot connected to it
	// (spec §4.5: min Haversine distance from depot to any route
	// vertex ≤ depot_connection_radius), used to pick the nearest
	// connected depot to a given spawn point.
	connectedDepots map[string][]model.Depot
	// index supports O(1) removal by commuter id for MarkPickedUp.
	index map[uuid.UUID]depotRouteKey

	stats      *Statistics
	budget     *LiveBudget
	emitter    EventEmitter
	writer     RecordStoreWriter
}

// DepotReservoirConfig bundles the reservoir's static dependencies.
type DepotReservoirConfig struct {
	Routes               []model.Route
	Depots               []model.Depot
	ConnectionRadiusKM   float64
	Budget               *LiveBudget
	Emitter              EventEmitter
	Writer               RecordStoreWriter
}

// NewDepotReservoir builds the depot-route connectivity gate and
// returns a reservoir ready to Start.
func NewDepotReservoir(cfg DepotReservoirConfig) *DepotReservoir {
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = noopEmitter{}
	}
	writer := cfg.Writer
	if writer == nil {
		writer = noopWriter{}
	}
	budget := cfg.Budget
	if budget == nil {
		budget = NewLiveBudget(10000)
	}

	connected := make(map[string][]model.Depot)
	for _, route := range cfg.Routes {
		if !route.Routable() {
			continue
		}
		for _, depot := range cfg.Depots {
			minDist := geo.MinVertexDistanceKm(depot.Location, route.Geometry)
			if minDist <= cfg.ConnectionRadiusKM {
				connected[route.ShortName] = append(connected[route.ShortName], depot)
			}
		}
	}

	return &DepotReservoir{
		cmdCh:           make(chan func()),
		stopCh:          make(chan struct{}),
		stoppedCh:       make(chan struct{}),
		queues:          make(map[depotRouteKey]*DepotQueue),
		connectedDepots: connected,
		index:           make(map[uuid.UUID]depotRouteKey),
		stats:           NewStatistics(),
		budget:          budget,
		emitter:         emitter,
		writer:          writer,
	}
}

// Start launches the reservoir's command loop. Idempotent: calling
// Start twice on an already-running reservoir is a no-op.
func (r *DepotReservoir) Start() {
	select {
	case <-r.stoppedCh:
		// already stopped; do not relaunch a dead reservoir
		return
	default:
	}
	r.startOnce.Do(func() { go r.run() })
}

func (r *DepotReservoir) run() {
	for {
		select {
		case cmd := <-r.cmdCh:
			cmd()
		case <-r.stopCh:
			close(r.stoppedCh)
			return
		}
	}
}

// Stop gracefully halts the command loop. Idempotent.
func (r *DepotReservoir) Stop() {
	select {
	case <-r.stoppedCh:
		return
	default:
	}
	select {
	case r.stopCh <- struct{}{}:
	case <-r.stoppedCh:
	}
}

// post runs fn inside the reservoir's goroutine and blocks until it
// completes, giving callers synchronous semantics over an
// asynchronous, single-owner mutation loop.
func (r *DepotReservoir) post(fn func()) {
	done := make(chan struct{})
	r.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// ResolveDepotForSpawn returns the connected depot nearest to
// spawnPoint for routeShortName, or false if the route has no
// connected depot (spec §4.5: spawn requests whose assigned route has
// no connected depot are silently dropped).
func (r *DepotReservoir) ResolveDepotForSpawn(routeShortName string, spawnPoint model.GeoPoint) (model.Depot, bool) {
	candidates := r.connectedDepots[routeShortName]
	if len(candidates) == 0 {
		return model.Depot{}, false
	}
	best := candidates[0]
	bestDist := geo.HaversineKm(spawnPoint, best.Location)
	for _, d := range candidates[1:] {
		if dist := geo.HaversineKm(spawnPoint, d.Location); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best, true
}

// SpawnCommuter appends a new commuter to the tail of the (depot,
// route) FIFO. Returns (nil, false) if the pair is not a connected
// pair, the location is invalid, or the global live-commuter budget is
// exhausted.
func (r *DepotReservoir) SpawnCommuter(depotID, routeShortName string, depotLocation, destination model.GeoPoint, priority float64, maxWait time.Duration) (*model.Commuter, bool) {
	if !depotLocation.Valid() || !destination.Valid() {
		r.stats.recordInvalidLoc()
		log.Printf("[depot-reservoir] DEBUG: invalid location for depot=%s route=%s", depotID, routeShortName)
		return nil, false
	}

	connected := false
	for _, d := range r.connectedDepots[routeShortName] {
		if d.DepotID == depotID {
			connected = true
			break
		}
	}
	if !connected {
		r.stats.recordDisconnected()
		return nil, false
	}

	var result *model.Commuter
	var ok bool
	r.post(func() {
		if !r.budget.TryAcquire() {
			r.stats.recordOverCap()
			return
		}
		req := model.SpawnRequest{
			SpawnPoint:       depotLocation,
			DestinationPoint: destination,
			AssignedRoute:    routeShortName,
			Priority:         priority,
			GenerationTime:   time.Now(),
			MaxWait:          maxWait,
		}
		c := model.NewCommuter(req, depotID)

		key := depotRouteKey{depotID: depotID, routeName: routeShortName}
		q, exists := r.queues[key]
		if !exists {
			q = newDepotQueue(depotID, routeShortName, depotLocation)
			r.queues[key] = q
		}
		q.pushBack(c)
		r.index[c.CommuterID] = key

		r.stats.recordSpawn()
		r.emitter.EmitSpawned(c)
		r.writer.Insert(c)

		result = &c
		ok = true
	})
	return result, ok
}

// QueryCommuters returns up to maxCount commuters from the FIFO head
// of the (depot, route) queue, filtered to those within maxDistanceM
// of vehicleLocation, in strict insertion order. Returns nil if the
// queue does not exist.
func (r *DepotReservoir) QueryCommuters(depotID, routeShortName string, vehicleLocation model.GeoPoint, maxDistanceM float64, maxCount int) []model.Commuter {
	var out []model.Commuter
	r.post(func() {
		q, ok := r.queues[depotRouteKey{depotID: depotID, routeName: routeShortName}]
		if !ok {
			return
		}
		out = q.front(vehicleLocation, maxDistanceM, maxCount, geo.HaversineM)
	})
	return out
}

// MarkPickedUp removes a commuter from its queue and emits a pickup
// event. Idempotent: a second call for the same id returns false.
func (r *DepotReservoir) MarkPickedUp(commuterID uuid.UUID) bool {
	var removed bool
	r.post(func() {
		key, ok := r.index[commuterID]
		if !ok {
			return
		}
		q, ok := r.queues[key]
		if !ok {
			return
		}
		c, ok := q.remove(commuterID)
		if !ok {
			return
		}
		delete(r.index, commuterID)
		q.pickedUp++

		now := time.Now()
		c.Status = model.StatusPickedUp
		c.BoardedAt = &now

		r.stats.recordPickup()
		r.budget.Release()
		r.emitter.EmitPickedUp(c)
		r.writer.MarkBoarded(c)
		removed = true
	})
	return removed
}

// ExpireTick removes every commuter across all queues whose wait has
// exceeded MaxWait as of now, emitting one expiration event each. A
// commuter whose pickup completes in the same tick is never also
// expired — MarkPickedUp always wins because removal is keyed by
// commuter id and a picked-up commuter is no longer present in any
// queue by the time ExpireTick examines it (spec §5 race rule).
func (r *DepotReservoir) ExpireTick(now time.Time) {
	r.post(func() {
		for _, q := range r.queues {
			for _, c := range q.expiredCommuters(now) {
				removed, ok := q.remove(c.CommuterID)
				if !ok {
					continue // already picked up between enumeration and removal
				}
				delete(r.index, c.CommuterID)
				q.expired++

				expiredAt := now
				removed.Status = model.StatusExpired
				removed.ExpiredAt = &expiredAt

				r.stats.recordExpiry()
				r.budget.Release()
				r.emitter.EmitExpired(removed)
				r.writer.MarkExpired(removed)
			}
		}
	})
}

// Stats returns a snapshot of this reservoir's lifecycle counters.
func (r *DepotReservoir) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// QueueLen reports the live length of a single (depot, route) queue,
// for diagnostics.
func (r *DepotReservoir) QueueLen(depotID, routeShortName string) int {
	var n int
	r.post(func() {
		if q, ok := r.queues[depotRouteKey{depotID: depotID, routeName: routeShortName}]; ok {
			n = q.len()
		}
	})
	return n
}

// ConnectedDepots exposes the connectivity gate computed at
// construction, mainly for diagnostics.
func (r *DepotReservoir) ConnectedDepots(routeShortName string) []model.Depot {
	return append([]model.Depot(nil), r.connectedDepots[routeShortName]...)
}

func (k depotRouteKey) String() string {
	return fmt.Sprintf("%s/%s", k.depotID, k.routeName)
}
