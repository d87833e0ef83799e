package reservoir

import (
	"testing"
	"time"

	"github.com/arknet/commuter-reservoir/internal/model"
)

func newTestRouteReservoir(t *testing.T) *RouteReservoir {
	t.Helper()
	r := NewRouteReservoir(RouteReservoirConfig{
		GridCellSizeDegrees: 0.01,
		Budget:              NewLiveBudget(10000),
	})
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

// S3: a vehicle querying one direction never sees commuters waiting
// for the opposite direction on the same route segment.
func TestRouteReservoir_DirectionFilter(t *testing.T) {
	r := newTestRouteReservoir(t)
	spawnPoint := model.GeoPoint{Lat: 40.000, Lon: -73.000}
	dest := model.GeoPoint{Lat: 40.050, Lon: -73.000}

	inCommuter, ok := r.SpawnCommuter("R1", spawnPoint, dest, model.Inbound, 1.0, time.Hour)
	if !ok {
		t.Fatal("inbound spawn failed")
	}
	outCommuter, ok := r.SpawnCommuter("R1", spawnPoint, dest, model.Outbound, 1.0, time.Hour)
	if !ok {
		t.Fatal("outbound spawn failed")
	}

	vehicleLoc := model.GeoPoint{Lat: 40.0001, Lon: -73.0001}
	inboundResults := r.QueryCommuters("R1", vehicleLoc, model.Inbound, 5000, 10)
	if len(inboundResults) != 1 || inboundResults[0].CommuterID != inCommuter.CommuterID {
		t.Fatalf("expected only the inbound commuter, got %d results", len(inboundResults))
	}

	outboundResults := r.QueryCommuters("R1", vehicleLoc, model.Outbound, 5000, 10)
	if len(outboundResults) != 1 || outboundResults[0].CommuterID != outCommuter.CommuterID {
		t.Fatalf("expected only the outbound commuter, got %d results", len(outboundResults))
	}
}

func TestRouteReservoir_QueryRespectsMaxDistanceAndCount(t *testing.T) {
	r := newTestRouteReservoir(t)
	near := model.GeoPoint{Lat: 40.0000, Lon: -73.0000}
	far := model.GeoPoint{Lat: 40.2000, Lon: -73.0000} // ~22km away
	dest := model.GeoPoint{Lat: 40.500, Lon: -73.000}

	if _, ok := r.SpawnCommuter("R1", near, dest, model.Inbound, 1.0, time.Hour); !ok {
		t.Fatal("near spawn failed")
	}
	if _, ok := r.SpawnCommuter("R1", far, dest, model.Inbound, 1.0, time.Hour); !ok {
		t.Fatal("far spawn failed")
	}

	results := r.QueryCommuters("R1", near, model.Inbound, 2000, 10)
	if len(results) != 1 {
		t.Fatalf("expected only the nearby commuter within 2km, got %d", len(results))
	}

	results = r.QueryCommuters("R1", near, model.Inbound, 50000, 1)
	if len(results) != 1 {
		t.Fatalf("expected maxCount=1 to cap results, got %d", len(results))
	}
}

func TestRouteReservoir_MarkPickedUpRemovesFromSegment(t *testing.T) {
	r := newTestRouteReservoir(t)
	p := model.GeoPoint{Lat: 40.000, Lon: -73.000}
	dest := model.GeoPoint{Lat: 40.050, Lon: -73.000}

	c, ok := r.SpawnCommuter("R1", p, dest, model.Inbound, 1.0, time.Hour)
	if !ok {
		t.Fatal("spawn failed")
	}
	if !r.MarkPickedUp(c.CommuterID) {
		t.Fatal("expected pickup to succeed")
	}
	if r.MarkPickedUp(c.CommuterID) {
		t.Error("second pickup of the same commuter must fail")
	}
	results := r.QueryCommuters("R1", p, model.Inbound, 50000, 10)
	if len(results) != 0 {
		t.Errorf("expected no commuters after pickup, got %d", len(results))
	}
}

func TestRouteReservoir_ExpireTickAcrossSegments(t *testing.T) {
	r := newTestRouteReservoir(t)
	p1 := model.GeoPoint{Lat: 40.000, Lon: -73.000}
	p2 := model.GeoPoint{Lat: 40.300, Lon: -73.000} // different grid cell
	dest := model.GeoPoint{Lat: 40.500, Lon: -73.000}

	if _, ok := r.SpawnCommuter("R1", p1, dest, model.Inbound, 1.0, time.Millisecond); !ok {
		t.Fatal("spawn 1 failed")
	}
	if _, ok := r.SpawnCommuter("R1", p2, dest, model.Inbound, 1.0, time.Millisecond); !ok {
		t.Fatal("spawn 2 failed")
	}

	time.Sleep(5 * time.Millisecond)
	r.ExpireTick(time.Now())

	snap := r.Stats()
	if snap.TotalExpired != 2 {
		t.Errorf("expected both segments' commuters to expire, got %d", snap.TotalExpired)
	}
	if r.SegmentCount() != 0 {
		t.Errorf("expected empty segments to be pruned, got %d remaining", r.SegmentCount())
	}
}
