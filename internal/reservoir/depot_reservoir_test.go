package reservoir

import (
	"testing"
	"time"

	"github.com/arknet/commuter-reservoir/internal/model"
)

func testRoute() model.Route {
	return model.Route{
		ShortName: "R1",
		LongName:  "Test Route",
		Geometry: []model.GeoPoint{
			{Lat: 40.000, Lon: -73.000},
			{Lat: 40.010, Lon: -73.000},
			{Lat: 40.020, Lon: -73.000},
		},
	}
}

func testDepot(id string, lat, lon float64) model.Depot {
	return model.Depot{DepotID: id, Name: id, Location: model.GeoPoint{Lat: lat, Lon: lon}, Capacity: 10}
}

func newTestDepotReservoir(t *testing.T) *DepotReservoir {
	t.Helper()
	r := NewDepotReservoir(DepotReservoirConfig{
		Routes:             []model.Route{testRoute()},
		Depots:             []model.Depot{testDepot("D1", 40.001, -73.001)},
		ConnectionRadiusKM: 1.0,
		Budget:             NewLiveBudget(10000),
	})
	r.Start()
	t.Cleanup(r.Stop)
	return r
}

// S1: FIFO pickup ordering at a single depot.
func TestDepotReservoir_FIFOPickup(t *testing.T) {
	r := newTestDepotReservoir(t)
	depotLoc := model.GeoPoint{Lat: 40.001, Lon: -73.001}
	dest := model.GeoPoint{Lat: 40.020, Lon: -73.000}

	var spawned []*model.Commuter
	for i := 0; i < 3; i++ {
		c, ok := r.SpawnCommuter("D1", "R1", depotLoc, dest, 1.0, time.Hour)
		if !ok {
			t.Fatalf("spawn %d failed", i)
		}
		spawned = append(spawned, c)
		time.Sleep(time.Millisecond) // ensure distinct insertion order is observable
	}

	got := r.QueryCommuters("D1", "R1", depotLoc, 100000, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 commuters, got %d", len(got))
	}
	for i, c := range got {
		if c.CommuterID != spawned[i].CommuterID {
			t.Errorf("position %d: expected FIFO order %s, got %s", i, spawned[i].CommuterID, c.CommuterID)
		}
	}

	if !r.MarkPickedUp(spawned[0].CommuterID) {
		t.Fatal("expected first commuter pickup to succeed")
	}
	remaining := r.QueryCommuters("D1", "R1", depotLoc, 100000, 10)
	if len(remaining) != 2 || remaining[0].CommuterID != spawned[1].CommuterID {
		t.Errorf("expected head to advance to second commuter after pickup")
	}
}

// S2: a commuter idle past MaxWait expires rather than staying queued
// forever, and a picked-up commuter is never also reported expired.
func TestDepotReservoir_ExpirationWinsWhenIdle(t *testing.T) {
	r := newTestDepotReservoir(t)
	depotLoc := model.GeoPoint{Lat: 40.001, Lon: -73.001}
	dest := model.GeoPoint{Lat: 40.020, Lon: -73.000}

	c, ok := r.SpawnCommuter("D1", "R1", depotLoc, dest, 1.0, time.Millisecond)
	if !ok {
		t.Fatal("spawn failed")
	}

	time.Sleep(5 * time.Millisecond)
	r.ExpireTick(time.Now())

	if r.MarkPickedUp(c.CommuterID) {
		t.Error("expired commuter should no longer be pickable")
	}
	snap := r.Stats()
	if snap.TotalExpired != 1 {
		t.Errorf("expected 1 expiry, got %d", snap.TotalExpired)
	}
	if snap.CurrentWaiting != 0 {
		t.Errorf("expected 0 waiting after expiry, got %d", snap.CurrentWaiting)
	}
}

// S4: a spawn targeting a depot/route pair with no connectivity is
// dropped and counted, never silently enqueued.
func TestDepotReservoir_DisconnectedRouteDropped(t *testing.T) {
	r := newTestDepotReservoir(t)
	farDepot := model.GeoPoint{Lat: 41.500, Lon: -73.000} // far outside connection radius
	dest := model.GeoPoint{Lat: 40.020, Lon: -73.000}

	_, ok := r.SpawnCommuter("D-unconnected", "R1", farDepot, dest, 1.0, time.Hour)
	if ok {
		t.Fatal("expected spawn to a disconnected depot to be rejected")
	}
	snap := r.Stats()
	if snap.DroppedDisconnected != 1 {
		t.Errorf("expected 1 disconnected drop, got %d", snap.DroppedDisconnected)
	}
	if snap.TotalSpawned != 0 {
		t.Errorf("disconnected drop must not count toward TotalSpawned, got %d", snap.TotalSpawned)
	}
}

// S6: pickup and expiration racing on the same commuter always resolve
// to exactly one outcome, never both and never neither.
func TestDepotReservoir_PickupExpireRace(t *testing.T) {
	r := newTestDepotReservoir(t)
	depotLoc := model.GeoPoint{Lat: 40.001, Lon: -73.001}
	dest := model.GeoPoint{Lat: 40.020, Lon: -73.000}

	c, ok := r.SpawnCommuter("D1", "R1", depotLoc, dest, 1.0, time.Millisecond)
	if !ok {
		t.Fatal("spawn failed")
	}
	time.Sleep(5 * time.Millisecond)

	pickupDone := make(chan bool)
	expireDone := make(chan struct{})
	go func() { pickupDone <- r.MarkPickedUp(c.CommuterID) }()
	go func() { r.ExpireTick(time.Now()); close(expireDone) }()

	pickedUp := <-pickupDone
	<-expireDone

	snap := r.Stats()
	total := snap.TotalPickedUp + snap.TotalExpired
	if total != 1 {
		t.Fatalf("expected exactly one resolution (pickup xor expiry), got pickedUp=%d expired=%d", snap.TotalPickedUp, snap.TotalExpired)
	}
	if pickedUp && snap.TotalPickedUp != 1 {
		t.Error("MarkPickedUp reported success but counter disagrees")
	}
}

// Property 3 (spec §8): TotalSpawned == CurrentWaiting + TotalPickedUp +
// TotalExpired + DroppedOverCap at every observation point.
func TestDepotReservoir_BalanceInvariant(t *testing.T) {
	r := NewDepotReservoir(DepotReservoirConfig{
		Routes:             []model.Route{testRoute()},
		Depots:             []model.Depot{testDepot("D1", 40.001, -73.001)},
		ConnectionRadiusKM: 1.0,
		Budget:             NewLiveBudget(2),
	})
	r.Start()
	defer r.Stop()

	depotLoc := model.GeoPoint{Lat: 40.001, Lon: -73.001}
	dest := model.GeoPoint{Lat: 40.020, Lon: -73.000}

	var ids []interface{ String() string }
	_ = ids
	var first *model.Commuter
	for i := 0; i < 5; i++ {
		c, ok := r.SpawnCommuter("D1", "R1", depotLoc, dest, 1.0, time.Hour)
		if ok && first == nil {
			first = c
		}
	}
	if first != nil {
		r.MarkPickedUp(first.CommuterID)
	}

	snap := r.Stats()
	sum := snap.CurrentWaiting + snap.TotalPickedUp + snap.TotalExpired + snap.DroppedOverCap
	if snap.TotalSpawned != sum {
		t.Errorf("balance invariant violated: TotalSpawned=%d but sum=%d (%+v)", snap.TotalSpawned, sum, snap)
	}
}
