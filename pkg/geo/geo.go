// Package geo provides geographic utility functions for the commuter
// reservoir: distance, bearing, grid-cell spatial hashing, and the
// activity-buffer polygon used to filter zones down to the ones near
// the fleet's actual routes and depots.
//
// All distance calculations use the Haversine formula on WGS-84
// coordinates. Results are pure functions of their inputs and are
// bit-stable across runs — the reservoir's determinism tests depend on
// this.
package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/arknet/commuter-reservoir/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// EarthRadiusM is the mean radius of Earth in meters.
	EarthRadiusM = 6_371_000.0

	// DegreesPerKm approximates how many degrees of latitude correspond
	// to one kilometer on the ground. Used by GetNearbyCells to convert
	// a search radius to a cell-count overshoot; overshoot is
	// acceptable, undershoot is not (spec §4.1).
	DegreesPerKm = 1.0 / 111.0
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in
// kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.GeoPoint) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineM returns the great-circle distance between two points in
// meters.
func HaversineM(a, b model.GeoPoint) float64 {
	return HaversineKm(a, b) * 1000.0
}

// Bearing returns the initial compass bearing in degrees [0, 360) from
// a to b. No other package in the module calls it.
func Bearing(a, b model.GeoPoint) float64 {
	lat1 := degToRad(a.Lat)
	lat2 := degToRad(b.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	theta := math.Atan2(y, x)
	return math.Mod(radToDeg(theta)+360, 360)
}

// ─── Route geometry ─────────────────────────────────────────

// RouteDistanceKm returns the total length of an ordered polyline in
// kilometers.
//
// Complexity: O(S) where S = number of points.
func RouteDistanceKm(route []model.GeoPoint) float64 {
	total := 0.0
	for i := 0; i < len(route)-1; i++ {
		total += HaversineKm(route[i], route[i+1])
	}
	return total
}

// MinVertexDistanceKm returns the minimum Haversine distance in
// kilometers from p to any vertex of route. Used for depot-route
// connectivity (spec §4.5) and for assigning a spawn point to the
// nearest route (spec §4.4 step 6).
func MinVertexDistanceKm(p model.GeoPoint, route []model.GeoPoint) float64 {
	if len(route) == 0 {
		return math.Inf(1)
	}
	min := HaversineKm(p, route[0])
	for _, v := range route[1:] {
		if d := HaversineKm(p, v); d < min {
			min = d
		}
	}
	return min
}

// ─── Grid-cell spatial hashing ──────────────────────────────

// GetGridCell returns the integer cell (⌊lat/s⌋, ⌊lon/s⌋) that p falls
// into at cell size s degrees. Deterministic and idempotent: two points
// with the same floored coordinates always hash to the same cell.
func GetGridCell(p model.GeoPoint, cellSizeDeg float64) model.GridCell {
	return model.GridCell{
		X: int(math.Floor(p.Lat / cellSizeDeg)),
		Y: int(math.Floor(p.Lon / cellSizeDeg)),
	}
}

// GetNearbyCells returns every integer cell whose center lies within
// radiusKm/111 degrees of p. Overshoot (returning extra, slightly-too-far
// cells) is acceptable; undershooting is not, per spec §4.1 — so the
// cell-count radius is computed with ceil, never floor/round.
func GetNearbyCells(p model.GeoPoint, radiusKm, cellSizeDeg float64) []model.GridCell {
	radiusDeg := radiusKm * DegreesPerKm
	cellRadius := int(math.Ceil(radiusDeg / cellSizeDeg))
	if cellRadius < 1 {
		cellRadius = 1
	}

	// Enumerate ring by ring (Chebyshev distance 0, 1, 2, ...) so the
	// result is ordered from the query point outward — a spiral, not a
	// raster scan. The route reservoir relies on this ordering when it
	// visits segments across multiple cells.
	center := GetGridCell(p, cellSizeDeg)
	cells := make([]model.GridCell, 0, (2*cellRadius+1)*(2*cellRadius+1))
	cells = append(cells, center)
	for ring := 1; ring <= cellRadius; ring++ {
		for dx := -ring; dx <= ring; dx++ {
			for dy := -ring; dy <= ring; dy++ {
				if dx > -ring && dx < ring && dy > -ring && dy < ring {
					continue // interior already emitted by a smaller ring
				}
				cells = append(cells, model.GridCell{X: center.X + dx, Y: center.Y + dy})
			}
		}
	}
	return cells
}

// ─── Activity buffer ────────────────────────────────────────

// ActivityBuffer filters zones down to the ones actually reachable by
// the fleet: the union of every route's polyline and every depot
// point, each inflated by bufferKM. It is represented as the set of
// coarse grid cells touched by that inflation, rather than a single
// buffered polygon — cheap to build and to query, and sufficient for
// the "is this zone anywhere near our network" filter spec §4.3 calls
// for.
type ActivityBuffer struct {
	cells   map[model.GridCell]struct{}
	cellDeg float64
}

// BuildActivityBuffer constructs the buffer from the fleet's routes and
// depots. bufferKM is the inflation radius (spec default 5 km).
func BuildActivityBuffer(routes []model.Route, depots []model.Depot, bufferKM float64) *ActivityBuffer {
	const cellDeg = 0.05 // coarse grid for the buffer itself, independent of the route reservoir's grid_cell_size
	buf := &ActivityBuffer{cells: make(map[model.GridCell]struct{}), cellDeg: cellDeg}

	addPoint := func(p model.GeoPoint) {
		for _, c := range GetNearbyCells(p, bufferKM, cellDeg) {
			buf.cells[c] = struct{}{}
		}
	}

	for _, r := range routes {
		for _, v := range r.Geometry {
			addPoint(v)
		}
	}
	for _, d := range depots {
		addPoint(d.Location)
	}
	return buf
}

// Contains reports whether p falls within the activity buffer.
func (b *ActivityBuffer) Contains(p model.GeoPoint) bool {
	_, ok := b.cells[GetGridCell(p, b.cellDeg)]
	return ok
}

// ContainsGeometry reports whether any vertex of geometry falls within
// the buffer — used for polygon zones, where a single representative
// point (the zone center) may sit outside the buffer while the polygon
// itself still overlaps it.
func (b *ActivityBuffer) ContainsGeometry(geometry []model.GeoPoint) bool {
	for _, v := range geometry {
		if b.Contains(v) {
			return true
		}
	}
	return false
}

// PointInRing reports whether p lies inside the polygon ring described
// by vertices (closed or open; the last-to-first edge is always
// checked). Used when a zone's precise polygon membership matters more
// than the coarse grid buffer above — grounded on orb/planar's
// ray-casting point-in-polygon implementation rather than a hand-rolled
// one.
func PointInRing(p model.GeoPoint, ring []model.GeoPoint) bool {
	if len(ring) < 3 {
		return false
	}
	orbRing := make(orb.Ring, 0, len(ring))
	for _, v := range ring {
		orbRing = append(orbRing, orb.Point{v.Lon, v.Lat})
	}
	return planar.RingContains(orbRing, orb.Point{p.Lon, p.Lat})
}

// NetworkPointInPolygon reports whether any of networkPoints (the
// fleet's actual route vertices and depot locations) falls precisely
// inside the polygon ring, per PointInRing. Used as the exact-overlap
// test in the zone cache: a zone whose own polygon genuinely contains
// a piece of the network is retained regardless of how coarse the
// activity buffer's grid happens to be at that point.
func NetworkPointInPolygon(ring []model.GeoPoint, networkPoints []model.GeoPoint) bool {
	for _, p := range networkPoints {
		if PointInRing(p, ring) {
			return true
		}
	}
	return false
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}

func radToDeg(rad float64) float64 {
	return rad * (180.0 / math.Pi)
}
