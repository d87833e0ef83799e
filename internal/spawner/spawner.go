// Package spawner implements the Poisson-process passenger generator:
// given population/amenity zones, the fleet's routes, and a wall-clock
// instant, it produces a batch of SpawnRequests whose per-zone counts
// are Poisson-distributed. The spawner is stateless across calls —
// reproducibility comes entirely from the caller-supplied PRNG seed.
package spawner

import (
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/arknet/commuter-reservoir/internal/model"
	"github.com/arknet/commuter-reservoir/pkg/geo"
)

const (
	peakMultiplier    = 2.5
	jitterDegrees     = 0.001
	rushPriorityBoost = 0.1
)

// purposeBasePriority is the base priority assigned per trip purpose,
// before the rush-hour boost (spec §4.4 step 6).
var purposeBasePriority = map[model.TripPurpose]float64{
	model.PurposeMedical:    1.0,
	model.PurposeWork:       0.9,
	model.PurposeEducation:  0.8,
	model.PurposeShopping:   0.6,
	model.PurposeSocial:     0.5,
	model.PurposePersonal:   0.5,
	model.PurposeRecreation: 0.4,
	model.PurposeGeneral:    0.3,
}

// purposeMaxWait is the purpose-specific patience budget.
var purposeMaxWait = map[model.TripPurpose]time.Duration{
	model.PurposeMedical:    15 * time.Minute,
	model.PurposeWork:       20 * time.Minute,
	model.PurposeEducation:  25 * time.Minute,
	model.PurposeShopping:   30 * time.Minute,
	model.PurposeSocial:     45 * time.Minute,
	model.PurposePersonal:   30 * time.Minute,
	model.PurposeRecreation: 60 * time.Minute,
	model.PurposeGeneral:    30 * time.Minute,
}

func isRushHour(hour int) bool {
	return (hour >= 7 && hour <= 9) || (hour >= 17 && hour <= 19)
}

func isSchoolHour(hour int) bool {
	return (hour >= 7 && hour <= 8) || (hour >= 13 && hour <= 15)
}

func isLateHour(hour int) bool {
	return hour >= 22 || hour <= 5
}

// typeHourModifier is the static zone-type × hour-of-day lookup from
// spec §4.4 step 3 (e.g. residential zones spike 3x during the morning
// peak, since that's when people leave home).
func typeHourModifier(zt model.ZoneType, hour int) float64 {
	morningPeak := hour >= 7 && hour <= 9
	eveningPeak := hour >= 17 && hour <= 19

	switch zt {
	case model.ZoneResidential:
		if morningPeak {
			return 3.0
		}
		if eveningPeak {
			return 1.5
		}
	case model.ZoneCommercial, model.ZoneRetail:
		if eveningPeak {
			return 2.0
		}
		if morningPeak {
			return 0.6
		}
	case model.ZoneEducation:
		if isSchoolHour(hour) {
			return 2.5
		}
	case model.ZoneHealthcare:
		return 1.2
	}
	return 1.0
}

// tripPurposeFor is a deterministic function of (zone_type, hour),
// per spec §4.4 step 6.
func tripPurposeFor(zt model.ZoneType, hour int) model.TripPurpose {
	if isLateHour(hour) {
		return model.PurposeSocial
	}
	if isSchoolHour(hour) && zt == model.ZoneEducation {
		return model.PurposeEducation
	}
	if isRushHour(hour) {
		return model.PurposeWork
	}
	switch zt {
	case model.ZoneEducation:
		return model.PurposeEducation
	case model.ZoneHealthcare:
		return model.PurposeMedical
	case model.ZoneCommercial, model.ZoneRetail:
		return model.PurposeShopping
	case model.ZoneRecreation:
		return model.PurposeRecreation
	case model.ZoneInstitutional:
		return model.PurposePersonal
	default:
		return model.PurposeGeneral
	}
}

// Spawner holds the immutable inputs for a spawn run and an injected
// PRNG; every draw advances the same generator so two Spawners built
// from identical (seed, zones, routes) replay bit-for-bit identical
// output (spec §8 property 6 / scenario S5).
type Spawner struct {
	populationZones []model.Zone
	amenityZones    []model.Zone
	routes          []model.Route
	rng             *rand.Rand
}

// New constructs a Spawner seeded deterministically.
func New(populationZones, amenityZones []model.Zone, routes []model.Route, seed int64) *Spawner {
	return &Spawner{
		populationZones: populationZones,
		amenityZones:    amenityZones,
		routes:          routes,
		rng:             rand.New(rand.NewSource(seed)),
	}
}

// GenerateBatch draws a fresh Poisson sample per zone and returns the
// resulting spawn requests. now is the wall-clock instant driving the
// peak-hour and zone-type modifiers; windowMinutes scales each zone's
// hourly rate down to the coordinator's actual tick interval.
func (s *Spawner) GenerateBatch(now time.Time, windowMinutes int) []model.SpawnRequest {
	if windowMinutes <= 0 {
		windowMinutes = 5
	}
	var out []model.SpawnRequest

	allZones := make([]model.Zone, 0, len(s.populationZones)+len(s.amenityZones))
	allZones = append(allZones, s.populationZones...)
	allZones = append(allZones, s.amenityZones...)

	for _, zone := range allZones {
		n := s.drawCount(zone, now, windowMinutes)
		for i := 0; i < n; i++ {
			req, ok := s.buildRequest(zone, now)
			if ok {
				out = append(out, req)
			}
		}
	}
	return out
}

func (s *Spawner) drawCount(zone model.Zone, now time.Time, windowMinutes int) int {
	hour := now.Hour()
	peakMult := 1.0
	if zone.IsPeakHour(hour) {
		peakMult = peakMultiplier
	}
	typeMult := typeHourModifier(zone.ZoneType, hour)
	lambda := zone.BaseSpawnRatePerHr * peakMult * typeMult * (float64(windowMinutes) / 60.0)
	if lambda <= 0 {
		return 0
	}

	dist := distuv.Poisson{Lambda: lambda, Src: s.rng}
	n := int(dist.Rand())
	if n < 0 {
		n = 0
	}
	return n
}

func (s *Spawner) buildRequest(zone model.Zone, now time.Time) (model.SpawnRequest, bool) {
	spawnPoint := model.GeoPoint{
		Lat: zone.Center.Lat + (s.rng.Float64()*2-1)*jitterDegrees,
		Lon: zone.Center.Lon + (s.rng.Float64()*2-1)*jitterDegrees,
	}

	route, ok := s.nearestRoute(spawnPoint)
	if !ok {
		return model.SpawnRequest{}, false
	}

	hour := now.Hour()
	purpose := tripPurposeFor(zone.ZoneType, hour)
	destination := s.chooseDestination(route, spawnPoint, purpose, hour)

	priority := purposeBasePriority[purpose]
	if priority == 0 {
		priority = purposeBasePriority[model.PurposeGeneral]
	}
	if isRushHour(hour) {
		priority += rushPriorityBoost
		if priority > 1.0 {
			priority = 1.0
		}
	}

	maxWait := purposeMaxWait[purpose]
	if maxWait == 0 {
		maxWait = purposeMaxWait[model.PurposeGeneral]
	}

	return model.SpawnRequest{
		SpawnPoint:       spawnPoint,
		DestinationPoint: destination,
		AssignedRoute:    route.ShortName,
		Priority:         priority,
		TripPurpose:      purpose,
		GenerationTime:   now,
		Direction:        s.chooseDirection(route, spawnPoint, hour),
		MaxWait:          maxWait,
	}, true
}

// nearestRoute assigns spawnPoint to the route whose polyline has the
// minimum vertex distance to it — the only linkage between zones and
// routes (spec §4.4 step 6).
func (s *Spawner) nearestRoute(spawnPoint model.GeoPoint) (model.Route, bool) {
	if len(s.routes) == 0 {
		return model.Route{}, false
	}
	best := s.routes[0]
	bestDist := geo.MinVertexDistanceKm(spawnPoint, best.Geometry)
	for _, r := range s.routes[1:] {
		if d := geo.MinVertexDistanceKm(spawnPoint, r.Geometry); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best, true
}

// chooseDestination implements the trip-purpose destination heuristic:
// work hours look for a commercial/institutional amenity on the same
// route, school hours look for an education amenity, late hours head
// toward a population (residential) zone, and everything else falls
// through to a direction-weighted random point on the route polyline.
func (s *Spawner) chooseDestination(route model.Route, spawnPoint model.GeoPoint, purpose model.TripPurpose, hour int) model.GeoPoint {
	switch purpose {
	case model.PurposeWork, model.PurposeShopping:
		if z, ok := s.nearestZoneOnRoute(s.amenityZones, route, model.ZoneCommercial, model.ZoneRetail, model.ZoneInstitutional); ok {
			return z.Center
		}
	case model.PurposeEducation:
		if z, ok := s.nearestZoneOnRoute(s.amenityZones, route, model.ZoneEducation); ok {
			return z.Center
		}
	case model.PurposeSocial:
		if z, ok := s.nearestZoneOnRoute(s.populationZones, route, model.ZoneResidential); ok {
			return z.Center
		}
	case model.PurposeMedical:
		if z, ok := s.nearestZoneOnRoute(s.amenityZones, route, model.ZoneHealthcare); ok {
			return z.Center
		}
	}
	return s.randomPointOnRoute(route, hour)
}

func (s *Spawner) nearestZoneOnRoute(zones []model.Zone, route model.Route, types ...model.ZoneType) (model.Zone, bool) {
	wanted := make(map[model.ZoneType]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	var best model.Zone
	bestDist := -1.0
	found := false
	for _, z := range zones {
		if _, ok := wanted[z.ZoneType]; !ok {
			continue
		}
		if d := geo.MinVertexDistanceKm(z.Center, route.Geometry); d < 20 {
			nearest, _ := s.nearestRoute(z.Center)
			if nearest.ShortName != route.ShortName {
				continue
			}
			if !found || d < bestDist {
				best, bestDist, found = z, d, true
			}
		}
	}
	return best, found
}

// randomPointOnRoute picks a point along the polyline, weighted toward
// the favored end of the route during peak hours (a morning-rush crowd
// leans toward the outbound terminus, an evening-rush crowd leans
// toward the inbound one) rather than a flat uniform pick.
func (s *Spawner) randomPointOnRoute(route model.Route, hour int) model.GeoPoint {
	if len(route.Geometry) == 0 {
		return model.GeoPoint{}
	}
	if len(route.Geometry) == 1 {
		return route.Geometry[0]
	}

	t := s.rng.Float64()
	if hour >= 7 && hour <= 9 {
		t = 1 - t*t // bias toward the far end (index close to 1)
	} else if hour >= 17 && hour <= 19 {
		t = t * t // bias toward the near end (index close to 0)
	}

	idx := int(t * float64(len(route.Geometry)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(route.Geometry) {
		idx = len(route.Geometry) - 1
	}
	return route.Geometry[idx]
}

// chooseDirection assigns the opaque INBOUND/OUTBOUND label. Per spec
// §9 this carries no geometric meaning; it is simply biased toward
// OUTBOUND in the morning peak and INBOUND in the evening peak, uniform
// otherwise.
func (s *Spawner) chooseDirection(route model.Route, spawnPoint model.GeoPoint, hour int) model.Direction {
	outboundProb := 0.5
	switch {
	case hour >= 7 && hour <= 9:
		outboundProb = 0.8
	case hour >= 17 && hour <= 19:
		outboundProb = 0.2
	}
	if s.rng.Float64() < outboundProb {
		return model.Outbound
	}
	return model.Inbound
}
