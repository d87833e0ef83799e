package reservoir

import (
	"container/list"
	"time"

	"github.com/google/uuid"

	"github.com/arknet/commuter-reservoir/internal/model"
)

// RouteSegment is the (grid_cell, route) bucket of the route
// reservoir: two direction-tagged lists (inbound/outbound), created
// lazily the first time a commuter lands in that cell.
type RouteSegment struct {
	RouteShortName string
	Cell           model.GridCell
	CreatedAt      time.Time

	inbound  *list.List
	outbound *list.List

	inboundIndex  map[uuid.UUID]*list.Element
	outboundIndex map[uuid.UUID]*list.Element

	spawned  int
	pickedUp int
	expired  int
}

func newRouteSegment(routeShortName string, cell model.GridCell) *RouteSegment {
	return &RouteSegment{
		RouteShortName: routeShortName,
		Cell:           cell,
		CreatedAt:      time.Now(),
		inbound:        list.New(),
		outbound:       list.New(),
		inboundIndex:   make(map[uuid.UUID]*list.Element),
		outboundIndex:  make(map[uuid.UUID]*list.Element),
	}
}

func (s *RouteSegment) listFor(dir model.Direction) (*list.List, map[uuid.UUID]*list.Element) {
	if dir == model.Inbound {
		return s.inbound, s.inboundIndex
	}
	return s.outbound, s.outboundIndex
}

func (s *RouteSegment) pushBack(c model.Commuter) {
	l, idx := s.listFor(c.Direction)
	elem := l.PushBack(c)
	idx[c.CommuterID] = elem
	s.spawned++
}

func (s *RouteSegment) remove(id uuid.UUID, dir model.Direction) (model.Commuter, bool) {
	l, idx := s.listFor(dir)
	elem, ok := idx[id]
	if !ok {
		return model.Commuter{}, false
	}
	c := elem.Value.(model.Commuter)
	l.Remove(elem)
	delete(idx, id)
	return c, true
}

// collect walks the direction-matching list in insertion order,
// appending commuters within maxDistanceM until budget is exhausted.
// Returns the number still available in budget after the call.
func (s *RouteSegment) collect(dir model.Direction, vehicleLocation model.GeoPoint, maxDistanceM float64, budget int, distanceFn func(a, b model.GeoPoint) float64, out *[]model.Commuter) int {
	l, _ := s.listFor(dir)
	for e := l.Front(); e != nil && budget > 0; e = e.Next() {
		c := e.Value.(model.Commuter)
		if distanceFn(vehicleLocation, c.CurrentPosition) <= maxDistanceM {
			*out = append(*out, c)
			budget--
		}
	}
	return budget
}

func (s *RouteSegment) expiredCommuters(now time.Time) []model.Commuter {
	var out []model.Commuter
	for _, dir := range []model.Direction{model.Inbound, model.Outbound} {
		l, _ := s.listFor(dir)
		for e := l.Front(); e != nil; e = e.Next() {
			c := e.Value.(model.Commuter)
			if c.Expired(now) {
				out = append(out, c)
			}
		}
	}
	return out
}

func (s *RouteSegment) empty() bool {
	return s.inbound.Len() == 0 && s.outbound.Len() == 0
}
