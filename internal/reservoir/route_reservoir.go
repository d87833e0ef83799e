package reservoir

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arknet/commuter-reservoir/internal/model"
	"github.com/arknet/commuter-reservoir/pkg/geo"
)

type routeCellKey struct {
	routeName string
	cell      model.GridCell
}

// commuterLocation is the side index entry that lets MarkPickedUp and
// ExpireTick reach a commuter's segment in O(1) without scanning every
// cell (spec §4.6).
type commuterLocation struct {
	key routeCellKey
	dir model.Direction
}

// RouteReservoir grid-indexes segments along each route's polyline and
// holds commuters tagged INBOUND or OUTBOUND. Like DepotReservoir, all
// mutation happens on a single owned goroutine; callers interact only
// through the methods below.
type RouteReservoir struct {
	cmdCh     chan func()
	stopCh    chan struct{}
	stoppedCh chan struct{}
	startOnce sync.Once

	segments map[routeCellKey]*RouteSegment
	index    map[uuid.UUID]commuterLocation

	cellSizeDeg float64
	stats       *Statistics
	budget      *LiveBudget
	emitter     EventEmitter
	writer      RecordStoreWriter
}

// RouteReservoirConfig bundles the reservoir's static dependencies.
type RouteReservoirConfig struct {
	GridCellSizeDegrees float64
	Budget              *LiveBudget
	Emitter             EventEmitter
	Writer              RecordStoreWriter
}

// NewRouteReservoir constructs an empty route reservoir.
func NewRouteReservoir(cfg RouteReservoirConfig) *RouteReservoir {
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
	cellSize := cfg.GridCellSizeDegrees
	if cellSize <= 0 {
		cellSize = 0.01
	}

	return &RouteReservoir{
		cmdCh:       make(chan func()),
		stopCh:      make(chan struct{}),
		stoppedCh:   make(chan struct{}),
		segments:    make(map[routeCellKey]*RouteSegment),
		index:       make(map[uuid.UUID]commuterLocation),
		cellSizeDeg: cellSize,
		stats:       NewStatistics(),
		budget:      budget,
		emitter:     emitter,
		writer:      writer,
	}
}

// Start launches the reservoir's command loop. Idempotent.
func (r *RouteReservoir) Start() {
	select {
	case <-r.stoppedCh:
		return
	default:
	}
	r.startOnce.Do(func() { go r.run() })
}

func (r *RouteReservoir) run() {
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
func (r *RouteReservoir) Stop() {
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

func (r *RouteReservoir) post(fn func()) {
	done := make(chan struct{})
	r.cmdCh <- func() {
		fn()
		close(done)
	}
	<-done
}

// SpawnCommuter computes the commuter's grid cell and inserts it into
// the matching RouteSegment's direction-tagged list.
func (r *RouteReservoir) SpawnCommuter(routeShortName string, currentLocation, destination model.GeoPoint, direction model.Direction, priority float64, maxWait time.Duration) (*model.Commuter, bool) {
	if !currentLocation.Valid() || !destination.Valid() {
		r.stats.recordInvalidLoc()
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
			SpawnPoint:       currentLocation,
			DestinationPoint: destination,
			AssignedRoute:    routeShortName,
			Priority:         priority,
			GenerationTime:   time.Now(),
			Direction:        direction,
			MaxWait:          maxWait,
		}
		c := model.NewCommuter(req, "")

		cell := geo.GetGridCell(currentLocation, r.cellSizeDeg)
		key := routeCellKey{routeName: routeShortName, cell: cell}
		seg, exists := r.segments[key]
		if !exists {
			seg = newRouteSegment(routeShortName, cell)
			r.segments[key] = seg
		}
		seg.pushBack(c)
		r.index[c.CommuterID] = commuterLocation{key: key, dir: direction}

		r.stats.recordSpawn()
		r.emitter.EmitSpawned(c)
		r.writer.Insert(c)

		result = &c
		ok = true
	})
	return result, ok
}

// QueryCommuters enumerates nearby cells via GetNearbyCells (spiral
// order, nearest ring first), walks the direction-matching list of
// every segment on routeShortName found in those cells, and keeps
// commuters within maxDistanceM. Stops as soon as maxCount is reached.
// Result order is insertion order within a cell, cells visited in
// spiral order — explicitly not a nearest-first sort (spec §4.6, §9).
func (r *RouteReservoir) QueryCommuters(routeShortName string, vehicleLocation model.GeoPoint, direction model.Direction, maxDistanceM float64, maxCount int) []model.Commuter {
	if maxCount <= 0 {
		return nil
	}
	var out []model.Commuter
	r.post(func() {
		searchRadiusKm := maxDistanceM/1000.0 + r.cellSizeDeg*111.0 // pad by one cell width
		cells := geo.GetNearbyCells(vehicleLocation, searchRadiusKm, r.cellSizeDeg)

		budget := maxCount
		for _, cell := range cells {
			if budget <= 0 {
				break
			}
			seg, ok := r.segments[routeCellKey{routeName: routeShortName, cell: cell}]
			if !ok {
				continue
			}
			budget = seg.collect(direction, vehicleLocation, maxDistanceM, budget, geo.HaversineM, &out)
		}
	})
	return out
}

// MarkPickedUp removes a commuter from its segment. Idempotent.
func (r *RouteReservoir) MarkPickedUp(commuterID uuid.UUID) bool {
	var removed bool
	r.post(func() {
		loc, ok := r.index[commuterID]
		if !ok {
			return
		}
		seg, ok := r.segments[loc.key]
		if !ok {
			return
		}
		c, ok := seg.remove(commuterID, loc.dir)
		if !ok {
			return
		}
		delete(r.index, commuterID)
		seg.pickedUp++
		r.pruneIfEmpty(loc.key, seg)

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

// ExpireTick removes every commuter across all segments whose wait has
// exceeded MaxWait as of now. Pickup always wins the race against
// expiration because both operations serialize through the same
// command loop (spec §5).
func (r *RouteReservoir) ExpireTick(now time.Time) {
	r.post(func() {
		for key, seg := range r.segments {
			for _, c := range seg.expiredCommuters(now) {
				removed, ok := seg.remove(c.CommuterID, c.Direction)
				if !ok {
					continue
				}
				delete(r.index, c.CommuterID)
				seg.expired++

				expiredAt := now
				removed.Status = model.StatusExpired
				removed.ExpiredAt = &expiredAt

				r.stats.recordExpiry()
				r.budget.Release()
				r.emitter.EmitExpired(removed)
				r.writer.MarkExpired(removed)
			}
			r.pruneIfEmpty(key, seg)
		}
	})
}

// pruneIfEmpty removes a segment once it holds no commuters in either
// direction, so long-idle cells do not pin memory forever.
func (r *RouteReservoir) pruneIfEmpty(key routeCellKey, seg *RouteSegment) {
	if seg.empty() {
		delete(r.segments, key)
	}
}

// Stats returns a snapshot of this reservoir's lifecycle counters.
func (r *RouteReservoir) Stats() StatsSnapshot {
	return r.stats.Snapshot()
}

// SegmentCount reports the number of live (non-empty) segments,
// primarily for tests and diagnostics.
func (r *RouteReservoir) SegmentCount() int {
	var n int
	r.post(func() { n = len(r.segments) })
	return n
}
