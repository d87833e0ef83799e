package spawner

import (
	"reflect"
	"testing"
	"time"

	"github.com/arknet/commuter-reservoir/internal/model"
)

func testRoutes() []model.Route {
	return []model.Route{{
		ShortName: "1A",
		LongName:  "Depot Loop",
		Geometry: []model.GeoPoint{
			{Lat: 13.0969, Lon: -59.6145},
			{Lat: 13.1050, Lon: -59.6140},
			{Lat: 13.1139, Lon: -59.6128},
		},
	}}
}

func testPopulationZones() []model.Zone {
	return []model.Zone{{
		ZoneID:             "res-1",
		ZoneType:           model.ZoneResidential,
		Center:             model.GeoPoint{Lat: 13.0970, Lon: -59.6144},
		BaseSpawnRatePerHr: 40.0,
		PeakHours:          map[int]struct{}{7: {}, 8: {}, 9: {}},
	}}
}

func testAmenityZones() []model.Zone {
	return []model.Zone{{
		ZoneID:             "office-1",
		ZoneType:           model.ZoneCommercial,
		Center:             model.GeoPoint{Lat: 13.1100, Lon: -59.6130},
		BaseSpawnRatePerHr: 20.0,
		PeakHours:          map[int]struct{}{17: {}, 18: {}},
	}}
}

// Property 6 / scenario S5: Poisson spawner determinism.
func TestGenerateBatch_DeterministicReplay(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)

	s1 := New(testPopulationZones(), testAmenityZones(), testRoutes(), 12345)
	s2 := New(testPopulationZones(), testAmenityZones(), testRoutes(), 12345)

	batch1 := s1.GenerateBatch(now, 5)
	batch2 := s2.GenerateBatch(now, 5)

	if !reflect.DeepEqual(batch1, batch2) {
		t.Fatalf("expected identical replay for the same seed, got:\n%+v\nvs\n%+v", batch1, batch2)
	}
}

func TestGenerateBatch_DifferentSeedsDiverge(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)

	s1 := New(testPopulationZones(), testAmenityZones(), testRoutes(), 1)
	s2 := New(testPopulationZones(), testAmenityZones(), testRoutes(), 2)

	batch1 := s1.GenerateBatch(now, 5)
	batch2 := s2.GenerateBatch(now, 5)

	if reflect.DeepEqual(batch1, batch2) {
		t.Fatal("expected different seeds to diverge with overwhelming probability")
	}
}

func TestGenerateBatch_AssignsRouteAndRespectsMaxWaitTable(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := New(testPopulationZones(), testAmenityZones(), testRoutes(), 7)

	batch := s.GenerateBatch(now, 60) // generous window to guarantee at least one draw
	if len(batch) == 0 {
		t.Fatal("expected at least one spawn request with a 60-minute window")
	}
	for _, req := range batch {
		if req.AssignedRoute != "1A" {
			t.Errorf("expected AssignedRoute = 1A, got %s", req.AssignedRoute)
		}
		if want := purposeMaxWait[req.TripPurpose]; req.MaxWait != want {
			t.Errorf("expected MaxWait %v for purpose %s, got %v", want, req.TripPurpose, req.MaxWait)
		}
		if req.Priority <= 0 || req.Priority > 1.0 {
			t.Errorf("priority out of range: %v", req.Priority)
		}
		if !req.SpawnPoint.Valid() {
			t.Errorf("invalid spawn point: %v", req.SpawnPoint)
		}
	}
}

func TestGenerateBatch_NoRoutesYieldsNoRequests(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 0, 0, 0, time.UTC)
	s := New(testPopulationZones(), testAmenityZones(), nil, 7)
	batch := s.GenerateBatch(now, 60)
	if len(batch) != 0 {
		t.Fatalf("expected no spawn requests with no routes loaded, got %d", len(batch))
	}
}
