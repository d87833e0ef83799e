package zonecache

import (
	"context"
	"testing"

	"github.com/arknet/commuter-reservoir/internal/model"
)

type fakeDataSource struct {
	landuse []model.Zone
	pois    []model.Zone
}

func (f *fakeDataSource) ListLanduseZones(ctx context.Context, countryID string) ([]model.Zone, error) {
	return f.landuse, nil
}

func (f *fakeDataSource) ListPOIs(ctx context.Context, countryID string) ([]model.Zone, error) {
	return f.pois, nil
}

func TestBuild_FiltersToActivityBuffer(t *testing.T) {
	routes := []model.Route{{
		ShortName: "1A",
		Geometry: []model.GeoPoint{
			{Lat: 13.0969, Lon: -59.6145},
			{Lat: 13.1139, Lon: -59.6128},
		},
	}}
	depots := []model.Depot{{DepotID: "D1", Location: model.GeoPoint{Lat: 13.0969, Lon: -59.6145}}}

	ds := &fakeDataSource{
		landuse: []model.Zone{
			{
				ZoneID:   "near",
				ZoneType: model.ZoneResidential,
				Geometry: []model.GeoPoint{{Lat: 13.0970, Lon: -59.6146}, {Lat: 13.0975, Lon: -59.6140}, {Lat: 13.0965, Lon: -59.6140}},
			},
			{
				ZoneID:   "far",
				ZoneType: model.ZoneResidential,
				Geometry: []model.GeoPoint{{Lat: -10, Lon: 100}, {Lat: -10.01, Lon: 100.01}, {Lat: -10.02, Lon: 100}},
			},
		},
		pois: []model.Zone{
			{ZoneID: "office-near", ZoneType: model.ZoneCommercial, Center: model.GeoPoint{Lat: 13.1000, Lon: -59.6130}},
			{ZoneID: "office-far", ZoneType: model.ZoneCommercial, Center: model.GeoPoint{Lat: 50, Lon: 50}},
		},
	}

	c := New()
	if err := c.Build(context.Background(), ds, routes, depots, "1", 5.0); err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !c.Populated() {
		t.Fatal("expected cache to be populated")
	}

	pop := c.PopulationZones()
	if len(pop) != 1 || pop[0].ZoneID != "near" {
		t.Fatalf("expected only the near residential zone retained, got %+v", pop)
	}
	amenity := c.AmenityZones()
	if len(amenity) != 1 || amenity[0].ZoneID != "office-near" {
		t.Fatalf("expected only the near commercial POI retained, got %+v", amenity)
	}

	stats := c.Statistics()
	if stats.TotalDiscarded != 2 {
		t.Fatalf("expected 2 discarded zones, got %d", stats.TotalDiscarded)
	}
	if pop[0].BaseSpawnRatePerHr <= 0 {
		t.Fatal("expected a positive base spawn rate from the zone-type table")
	}
}
