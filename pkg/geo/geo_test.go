package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/arknet/commuter-reservoir/internal/model"
)

func TestHaversineKm_SamePoint(t *testing.T) {
	p := model.GeoPoint{Lat: 13.0969, Lon: -59.6145}
	got := HaversineKm(p, p)
	if got != 0 {
		t.Errorf("HaversineKm(same point) = %v, want 0", got)
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Depot D to destination in scenario S1 (~1.9 km apart).
	a := model.GeoPoint{Lat: 13.0969, Lon: -59.6145}
	b := model.GeoPoint{Lat: 13.1139, Lon: -59.6128}
	got := HaversineKm(a, b)
	wantMin, wantMax := 1.0, 3.0
	if got < wantMin || got > wantMax {
		t.Errorf("HaversineKm(a→b) = %.2f km, want between %.1f and %.1f", got, wantMin, wantMax)
	}
}

// Property 4 (spec §8): Haversine is symmetric to within 1 m.
func TestHaversineKm_Symmetric(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		a := model.GeoPoint{Lat: rng.Float64()*180 - 90, Lon: rng.Float64()*360 - 180}
		b := model.GeoPoint{Lat: rng.Float64()*180 - 90, Lon: rng.Float64()*360 - 180}
		d1 := HaversineM(a, b)
		d2 := HaversineM(b, a)
		if math.Abs(d1-d2) >= 1.0 {
			t.Fatalf("HaversineM not symmetric for %v,%v: %v vs %v", a, b, d1, d2)
		}
	}
}

func TestHaversineM(t *testing.T) {
	a := model.GeoPoint{Lat: 0, Lon: 0}
	b := model.GeoPoint{Lat: 0.001, Lon: 0}
	km := HaversineKm(a, b)
	m := HaversineM(a, b)
	if math.Abs(m-km*1000) > 0.01 {
		t.Errorf("HaversineM = %v, want HaversineKm*1000 = %v", m, km*1000)
	}
}

func TestRouteDistanceKm(t *testing.T) {
	route := []model.GeoPoint{
		{Lat: 13.0969, Lon: -59.6145},
		{Lat: 13.1050, Lon: -59.6140},
		{Lat: 13.1139, Lon: -59.6128},
	}
	got := RouteDistanceKm(route)
	if got <= 0 {
		t.Errorf("RouteDistanceKm = %v, want positive", got)
	}
}

func TestMinVertexDistanceKm(t *testing.T) {
	route := []model.GeoPoint{
		{Lat: 13.0969, Lon: -59.6145},
		{Lat: 13.1139, Lon: -59.6128},
	}
	p := model.GeoPoint{Lat: 13.0970, Lon: -59.6146}
	got := MinVertexDistanceKm(p, route)
	if got > 0.1 {
		t.Errorf("MinVertexDistanceKm = %.3f km, want near-zero (p is near route[0])", got)
	}
}

// Property 5 (spec §8): GetGridCell is idempotent and monotone.
func TestGetGridCell_IdempotentAndMonotone(t *testing.T) {
	cellSize := 0.01
	p := model.GeoPoint{Lat: 13.0969, Lon: -59.6145}

	c1 := GetGridCell(p, cellSize)
	c2 := GetGridCell(p, cellSize)
	if c1 != c2 {
		t.Fatalf("GetGridCell not idempotent: %v != %v", c1, c2)
	}

	shifted := model.GeoPoint{Lat: p.Lat + cellSize, Lon: p.Lon}
	c3 := GetGridCell(shifted, cellSize)
	if c3.X != c1.X+1 || c3.Y != c1.Y {
		t.Fatalf("GetGridCell not monotone on lat shift: %v -> %v", c1, c3)
	}
}

func TestGetNearbyCells_NeverUndershoots(t *testing.T) {
	p := model.GeoPoint{Lat: 13.0969, Lon: -59.6145}
	cells := GetNearbyCells(p, 1.0, 0.01)

	want := GetGridCell(model.GeoPoint{Lat: p.Lat + 0.009, Lon: p.Lon}, 0.01)
	found := false
	for _, c := range cells {
		if c == want {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("GetNearbyCells missed a cell well within the search radius: %v not in %v", want, cells)
	}
}

func TestBuildActivityBuffer_ContainsRouteAndDepot(t *testing.T) {
	routes := []model.Route{{
		ShortName: "1A",
		Geometry: []model.GeoPoint{
			{Lat: 13.0969, Lon: -59.6145},
			{Lat: 13.1139, Lon: -59.6128},
		},
	}}
	depots := []model.Depot{{DepotID: "D1", Location: model.GeoPoint{Lat: 13.2000, Lon: -59.6000}}}

	buf := BuildActivityBuffer(routes, depots, 5.0)

	if !buf.Contains(routes[0].Geometry[0]) {
		t.Error("buffer does not contain its own route vertex")
	}
	if !buf.Contains(depots[0].Location) {
		t.Error("buffer does not contain its own depot location")
	}
	farAway := model.GeoPoint{Lat: -10, Lon: 100}
	if buf.Contains(farAway) {
		t.Error("buffer unexpectedly contains a point on the other side of the planet")
	}
}

func TestPointInRing(t *testing.T) {
	square := []model.GeoPoint{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 1},
		{Lat: 1, Lon: 1},
		{Lat: 1, Lon: 0},
	}
	inside := model.GeoPoint{Lat: 0.5, Lon: 0.5}
	outside := model.GeoPoint{Lat: 5, Lon: 5}

	if !PointInRing(inside, square) {
		t.Error("PointInRing: expected inside point to be contained")
	}
	if PointInRing(outside, square) {
		t.Error("PointInRing: expected outside point to be excluded")
	}
}
