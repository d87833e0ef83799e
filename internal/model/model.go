// Package model contains the domain entities shared by every reservoir
// component: geography, route/depot/zone metadata, spawn requests, and
// the live Commuter record itself.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ─── Enums ──────────────────────────────────────────────────

type Direction string

const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

type CommuterStatus string

const (
	StatusWaiting  CommuterStatus = "WAITING"
	StatusPickedUp CommuterStatus = "PICKED_UP"
	StatusExpired  CommuterStatus = "EXPIRED"
)

// ZoneType classifies a Zone for spawn-rate and partitioning purposes.
// Population-like types seed residential demand; the rest are amenities
// (trip attractors).
type ZoneType string

const (
	ZoneResidential   ZoneType = "residential"
	ZoneCommercial    ZoneType = "commercial"
	ZoneIndustrial    ZoneType = "industrial"
	ZoneRetail        ZoneType = "retail"
	ZoneInstitutional ZoneType = "institutional"
	ZoneEducation     ZoneType = "education"
	ZoneHealthcare    ZoneType = "healthcare"
	ZoneRecreation    ZoneType = "recreation"
	ZoneOther         ZoneType = "other"
)

// TripPurpose drives destination heuristics, priority, and max-wait.
type TripPurpose string

const (
	PurposeWork       TripPurpose = "work"
	PurposeEducation  TripPurpose = "education"
	PurposeShopping   TripPurpose = "shopping"
	PurposeMedical    TripPurpose = "medical"
	PurposeSocial     TripPurpose = "social"
	PurposeRecreation TripPurpose = "recreation"
	PurposePersonal   TripPurpose = "personal"
	PurposeGeneral    TripPurpose = "general"
)

// ─── GeoPoint ───────────────────────────────────────────────

// GeoPoint is a WGS-84 geographic point in decimal degrees. It is the
// single location value type used across every package boundary; no
// caller passes a raw (float64, float64) pair, a map, or a tuple-like
// slice into reservoir or spawner code.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether p falls within the legal WGS-84 envelope.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// ─── Static reference entities ─────────────────────────────

// Route is immutable once loaded by the data-source client.
type Route struct {
	ShortName string     `json:"short_name"`
	LongName  string     `json:"long_name"`
	Geometry  []GeoPoint `json:"geometry"`
	LengthM   float64    `json:"length_m"`
}

// Routable reports whether the route has enough geometry to be used
// as a spawn/query target.
func (r Route) Routable() bool {
	return len(r.Geometry) >= 2
}

// Depot is immutable once loaded.
type Depot struct {
	DepotID  string   `json:"depot_id"`
	Name     string   `json:"name"`
	Location GeoPoint `json:"location"`
	Capacity int      `json:"capacity"`
}

// Zone is immutable once loaded by the spatial zone cache.
type Zone struct {
	ZoneID             string           `json:"zone_id"`
	ZoneType           ZoneType         `json:"zone_type"`
	Geometry           []GeoPoint       `json:"geometry,omitempty"` // polygon ring; empty for point zones
	Center             GeoPoint         `json:"center"`
	BaseSpawnRatePerHr float64          `json:"base_spawn_rate_per_hour"`
	PeakHours          map[int]struct{} `json:"-"`
}

// IsPeakHour reports whether hour (0-23) is one of the zone's configured
// peak hours.
func (z Zone) IsPeakHour(hour int) bool {
	_, ok := z.PeakHours[hour]
	return ok
}

// ─── SpawnRequest ───────────────────────────────────────────

// SpawnRequest is a value type: produced by the Poisson spawner, never
// stored. It becomes a Commuter only once a reservoir accepts it.
type SpawnRequest struct {
	SpawnPoint       GeoPoint
	DestinationPoint GeoPoint
	AssignedRoute    string
	Priority         float64
	TripPurpose      TripPurpose
	GenerationTime   time.Time
	Direction        Direction // opaque label, spawner-assigned; see spec §9
	MaxWait          time.Duration
}

// ─── Commuter ───────────────────────────────────────────────

// Commuter is the central live entity. It exists in exactly one
// reservoir container for its entire in-memory lifetime (depot FIFO or
// route-grid segment), never both, never neither.
type Commuter struct {
	CommuterID          uuid.UUID
	CurrentPosition      GeoPoint
	DestinationPosition  GeoPoint
	Direction            Direction
	Priority             float64
	SpawnTime            time.Time
	MaxWait              time.Duration
	TripPurpose          TripPurpose
	AssignedRoute        string
	BoundDepotID         string // set only for depot-reservoir commuters
	Status               CommuterStatus
	BoardedAt            *time.Time
	ExpiredAt            *time.Time
}

// Expired reports whether c has waited longer than MaxWait as of now.
func (c Commuter) Expired(now time.Time) bool {
	return now.Sub(c.SpawnTime) > c.MaxWait
}

// NewCommuter materializes a SpawnRequest into a live, waiting Commuter.
func NewCommuter(req SpawnRequest, boundDepotID string) Commuter {
	return Commuter{
		CommuterID:          uuid.New(),
		CurrentPosition:     req.SpawnPoint,
		DestinationPosition: req.DestinationPoint,
		Direction:           req.Direction,
		Priority:            req.Priority,
		SpawnTime:           req.GenerationTime,
		MaxWait:             req.MaxWait,
		TripPurpose:         req.TripPurpose,
		AssignedRoute:       req.AssignedRoute,
		BoundDepotID:        boundDepotID,
		Status:              StatusWaiting,
	}
}

// GridCell indexes the route reservoir: (⌊lat/s⌋, ⌊lon/s⌋).
type GridCell struct {
	X int
	Y int
}
