package reservoir

import (
	"container/list"
	"time"

	"github.com/google/uuid"

	"github.com/arknet/commuter-reservoir/internal/model"
)

// DepotQueue is a single (depot, route) FIFO waiting line. It is
// created lazily the first time a spawn targets a connected pair.
// Insertion is always at the tail; removal (pickup or expiry) can
// happen at any position, located in O(1) via elemIndex.
type DepotQueue struct {
	DepotID        string
	RouteShortName string
	DepotLocation  model.GeoPoint
	CreatedAt      time.Time

	items     *list.List
	elemIndex map[uuid.UUID]*list.Element

	spawned  int
	pickedUp int
	expired  int
}

func newDepotQueue(depotID, routeShortName string, depotLocation model.GeoPoint) *DepotQueue {
	return &DepotQueue{
		DepotID:        depotID,
		RouteShortName: routeShortName,
		DepotLocation:  depotLocation,
		CreatedAt:      time.Now(),
		items:          list.New(),
		elemIndex:      make(map[uuid.UUID]*list.Element),
	}
}

func (q *DepotQueue) pushBack(c model.Commuter) {
	elem := q.items.PushBack(c)
	q.elemIndex[c.CommuterID] = elem
	q.spawned++
}

func (q *DepotQueue) remove(id uuid.UUID) (model.Commuter, bool) {
	elem, ok := q.elemIndex[id]
	if !ok {
		return model.Commuter{}, false
	}
	c := elem.Value.(model.Commuter)
	q.items.Remove(elem)
	delete(q.elemIndex, id)
	return c, true
}

// front returns up to maxCount commuters starting from the FIFO head,
// filtered to those within maxDistanceM of vehicleLocation, preserving
// insertion order — never re-sorted by distance (spec §4.5).
func (q *DepotQueue) front(vehicleLocation model.GeoPoint, maxDistanceM float64, maxCount int, distanceFn func(a, b model.GeoPoint) float64) []model.Commuter {
	if maxCount <= 0 {
		return nil
	}
	out := make([]model.Commuter, 0, maxCount)
	for e := q.items.Front(); e != nil && len(out) < maxCount; e = e.Next() {
		c := e.Value.(model.Commuter)
		if distanceFn(vehicleLocation, c.CurrentPosition) <= maxDistanceM {
			out = append(out, c)
		}
	}
	return out
}

// expiredCommuters returns every commuter in the queue whose wait has
// exceeded its MaxWait as of now, without removing them (the caller
// removes after resolving the pickup-vs-expiration race).
func (q *DepotQueue) expiredCommuters(now time.Time) []model.Commuter {
	var out []model.Commuter
	for e := q.items.Front(); e != nil; e = e.Next() {
		c := e.Value.(model.Commuter)
		if c.Expired(now) {
			out = append(out, c)
		}
	}
	return out
}

func (q *DepotQueue) len() int {
	return q.items.Len()
}
