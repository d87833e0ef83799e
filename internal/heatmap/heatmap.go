// Package heatmap maintains a non-authoritative, best-effort mirror of
// where demand is concentrating, for an external dashboard to read.
// It is never consulted by the reservoirs themselves; their own
// in-memory counters remain the single source of truth (spec.md §5).
//
// Grounded on the teacher's surge-pricing Redis fast path: a coarse
// lat/lon bucket key with a short TTL, incremented fire-and-forget on
// every successful spawn and left to expire on its own otherwise.
package heatmap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arknet/commuter-reservoir/internal/model"
)

const demandKeyPrefix = "reservoir:demand:"

// Mirror increments a coarse geographic bucket counter in Redis for
// every spawn it observes. All operations are best-effort: a Redis
// failure is logged and otherwise ignored, matching the policy for
// every outward boundary the reservoir touches.
type Mirror struct {
	client   *redis.Client
	ttl      time.Duration
}

// New wraps an existing Redis client. ttl controls how long a
// bucket's demand count survives without being refreshed.
func New(client *redis.Client, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Mirror{client: client, ttl: ttl}
}

// bucketKey buckets a point onto a coarse grid — two decimal places of
// lat/lon, matching the teacher's geohashKey precision (~1.1km cells)
// — trading spatial precision for a small, human-inspectable keyspace.
func bucketKey(p model.GeoPoint) string {
	return fmt.Sprintf("%s%.2f:%.2f", demandKeyPrefix, p.Lat, p.Lon)
}

// RecordSpawn increments the demand bucket covering p and refreshes
// its TTL. Call this from the reservoir's spawn path; it must never
// block the reservoir's command loop, so the call is expected to run
// in the same fire-and-forget style as EventEmitter/RecordStoreWriter.
func (m *Mirror) RecordSpawn(ctx context.Context, p model.GeoPoint) {
	key := bucketKey(p)
	pipe := m.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, m.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[heatmap] WARN: failed to record demand for bucket %s: %v", key, err)
	}
}

// BucketDemand is one observed point in the current heatmap snapshot.
type BucketDemand struct {
	Lat    float64
	Lon    float64
	Demand int64
}

// Snapshot scans every live demand bucket and returns its current
// count. Intended for the external dashboard's polling endpoint, not
// for reservoir decision-making.
func (m *Mirror) Snapshot(ctx context.Context) ([]BucketDemand, error) {
	var out []BucketDemand
	iter := m.client.Scan(ctx, 0, demandKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		count, err := m.client.Get(ctx, key).Int64()
		if err != nil {
			continue
		}
		var lat, lon float64
		if _, err := fmt.Sscanf(key, demandKeyPrefix+"%f:%f", &lat, &lon); err != nil {
			continue
		}
		out = append(out, BucketDemand{Lat: lat, Lon: lon, Demand: count})
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("heatmap: scan: %w", err)
	}
	return out, nil
}
