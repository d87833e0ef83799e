// Package zonecache builds the spatial zone cache: the activity buffer
// around the fleet's routes and depots, and the population/amenity
// zone snapshots filtered down to that buffer. It is built once at
// reservoir startup and never mutated afterward (spec §4.3).
package zonecache

import (
	"context"
	"sync"

	"github.com/arknet/commuter-reservoir/internal/model"
	"github.com/arknet/commuter-reservoir/pkg/geo"
)

// spawnRateTable maps zone type to a base hourly spawn rate. It is a
// static table keyed on ZoneType only, with no country-specific
// entries. It is compiled in: no config key overrides it.
var spawnRateTable = map[model.ZoneType]float64{
	model.ZoneResidential:   8.0,
	model.ZoneCommercial:    5.0,
	model.ZoneIndustrial:    2.0,
	model.ZoneRetail:        6.0,
	model.ZoneInstitutional: 3.0,
	model.ZoneEducation:     10.0,
	model.ZoneHealthcare:    4.0,
	model.ZoneRecreation:    3.0,
	model.ZoneOther:         1.0,
}

// defaultPeakHours is applied to every zone unless overridden; morning
// and evening rush, matching the original source's peak-hour windows.
var defaultPeakHours = map[int]struct{}{7: {}, 8: {}, 9: {}, 17: {}, 18: {}, 19: {}}

// amenityZoneTypes are draws/attractors; everything else is treated as
// a population (residential-like) zone.
var amenityZoneTypes = map[model.ZoneType]struct{}{
	model.ZoneCommercial:    {},
	model.ZoneRetail:        {},
	model.ZoneInstitutional: {},
	model.ZoneEducation:     {},
	model.ZoneHealthcare:    {},
	model.ZoneRecreation:    {},
}

// DataSource is the subset of internal/datasource.Client the cache
// needs; an interface so tests can supply a fake without a real HTTP
// server.
type DataSource interface {
	ListLanduseZones(ctx context.Context, countryID string) ([]model.Zone, error)
	ListPOIs(ctx context.Context, countryID string) ([]model.Zone, error)
}

// Statistics is a read-only snapshot of cache composition.
type Statistics struct {
	PopulationZones int
	AmenityZones    int
	TotalRetained   int
	TotalDiscarded  int
}

// Cache holds the immutable, buffer-filtered zone snapshots.
type Cache struct {
	mu sync.RWMutex

	buffer          *geo.ActivityBuffer
	populationZones []model.Zone
	amenityZones    []model.Zone
	stats           Statistics

	populated bool
}

// New constructs an empty Cache. Call Build before use.
func New() *Cache {
	return &Cache{}
}

// Build constructs the activity buffer from routes and depots, fetches
// all land-use zones and POIs for countryID, retains only those
// intersecting the buffer, partitions them into population vs amenity
// zones, and computes each zone's base spawn rate and peak hours. This
// must complete before either reservoir begins spawning (spec §4.3
// invariant).
func (c *Cache) Build(ctx context.Context, ds DataSource, routes []model.Route, depots []model.Depot, countryID string, bufferKM float64) error {
	buffer := geo.BuildActivityBuffer(routes, depots, bufferKM)

	networkPoints := make([]model.GeoPoint, 0, len(depots))
	for _, r := range routes {
		networkPoints = append(networkPoints, r.Geometry...)
	}
	for _, d := range depots {
		networkPoints = append(networkPoints, d.Location)
	}

	landuse, err := ds.ListLanduseZones(ctx, countryID)
	if err != nil {
		return err
	}
	pois, err := ds.ListPOIs(ctx, countryID)
	if err != nil {
		return err
	}

	var population, amenity []model.Zone
	discarded := 0

	for _, z := range append(landuse, pois...) {
		intersects := false
		switch {
		case len(z.Geometry) >= 3:
			// A zone with a real polygon ring is retained if the fleet's
			// network genuinely passes through it, or — short of that
			// exact overlap — if it falls within the inflated activity
			// buffer.
			intersects = geo.NetworkPointInPolygon(z.Geometry, networkPoints) || buffer.ContainsGeometry(z.Geometry)
		case len(z.Geometry) > 0:
			intersects = buffer.ContainsGeometry(z.Geometry)
		default:
			intersects = buffer.Contains(z.Center)
		}
		if !intersects {
			discarded++
			continue
		}

		z.BaseSpawnRatePerHr = spawnRateTable[z.ZoneType]
		if z.BaseSpawnRatePerHr == 0 {
			z.BaseSpawnRatePerHr = spawnRateTable[model.ZoneOther]
		}
		z.PeakHours = defaultPeakHours

		if _, isAmenity := amenityZoneTypes[z.ZoneType]; isAmenity {
			amenity = append(amenity, z)
		} else {
			population = append(population, z)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = buffer
	c.populationZones = population
	c.amenityZones = amenity
	c.stats = Statistics{
		PopulationZones: len(population),
		AmenityZones:    len(amenity),
		TotalRetained:   len(population) + len(amenity),
		TotalDiscarded:  discarded,
	}
	c.populated = true
	return nil
}

// Populated reports whether Build has completed successfully.
func (c *Cache) Populated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populated
}

// PopulationZones returns a read-only snapshot of residential-like
// zones.
func (c *Cache) PopulationZones() []model.Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Zone, len(c.populationZones))
	copy(out, c.populationZones)
	return out
}

// AmenityZones returns a read-only snapshot of attractor zones.
func (c *Cache) AmenityZones() []model.Zone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Zone, len(c.amenityZones))
	copy(out, c.amenityZones)
	return out
}

// Statistics returns a snapshot of cache composition.
func (c *Cache) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
