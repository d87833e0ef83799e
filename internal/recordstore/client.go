// Package recordstore mirrors reservoir state to the external
// passenger-persistence API. The in-memory reservoir remains
// authoritative; this package's job is best-effort replication with a
// bounded, drop-oldest queue so a slow or unavailable record store
// never backs up into the reservoir's command loop (spec.md §5).
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/arknet/commuter-reservoir/internal/model"
)

// passengerPayload is the exact body shape documented for
// POST /api/active-passengers.
type passengerPayload struct {
	PassengerID      string  `json:"passenger_id"`
	RouteID          string  `json:"route_id"`
	DepotID          string  `json:"depot_id,omitempty"`
	Direction        string  `json:"direction"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	DestinationLat   float64 `json:"destination_lat"`
	DestinationLon   float64 `json:"destination_lon"`
	DestinationName  string  `json:"destination_name"`
	SpawnedAt        string  `json:"spawned_at"`
	ExpiresAt        string  `json:"expires_at"`
	Status           string  `json:"status"`
	Priority         int     `json:"priority"`
}

func toPayload(c model.Commuter) passengerPayload {
	return passengerPayload{
		PassengerID:     c.CommuterID.String(),
		RouteID:         c.AssignedRoute,
		DepotID:         c.BoundDepotID,
		Direction:       string(c.Direction),
		Latitude:        c.CurrentPosition.Lat,
		Longitude:       c.CurrentPosition.Lon,
		DestinationLat:  c.DestinationPosition.Lat,
		DestinationLon:  c.DestinationPosition.Lon,
		SpawnedAt:       c.SpawnTime.UTC().Format(time.RFC3339),
		ExpiresAt:       c.SpawnTime.Add(c.MaxWait).UTC().Format(time.RFC3339),
		Status:          "WAITING",
		Priority:        priorityBucket(c.Priority),
	}
}

// priorityBucket maps the reservoir's continuous [0,1] priority onto
// the record store's documented 1..5 integer scale.
func priorityBucket(p float64) int {
	bucket := int(p*5) + 1
	if bucket < 1 {
		return 1
	}
	if bucket > 5 {
		return 5
	}
	return bucket
}

// writeJob is one queued mutation against the record store API.
type writeJob struct {
	method string
	path   string
	body   interface{}
}

// WAL operation names, matching WALEntry.Operation.
const (
	walOpInsert      = "insert"
	walOpMarkBoarded = "mark_boarded"
	walOpMarkExpired = "mark_expired"
)

const (
	walReplayInterval  = 30 * time.Second
	walReplayBatchSize = 50
	walPruneAge        = 24 * time.Hour
)

// Client implements reservoir.RecordStoreWriter over the record
// store's REST surface. Writes are queued on a bounded channel and
// drained by a single background worker; when the queue is full the
// oldest pending write is dropped (counted), never the newest, so
// the record store trends toward eventually reflecting current state
// rather than stale state (spec.md: "overflow drops the oldest
// pending write with a warning counter").
//
// When wal is set, every Insert/MarkBoarded/MarkExpired call also
// appends a durable row to it before being queued, and a background
// replay loop periodically leases undelivered rows and resends them —
// so a write dropped from the in-memory queue (overflow, or a crash
// before it drained) is not lost for good, only delayed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	wal        *WALStore

	mu      sync.Mutex
	queue   []writeJob
	maxSize int
	notify  chan struct{}

	stopCh       chan struct{}
	doneCh       chan struct{}
	replayDoneCh chan struct{}

	dropped  int64
	inFlight int64
}

// New constructs a Client and starts its background drain worker. wal
// may be nil, in which case the client has no durable write-ahead
// buffer and writes are purely best-effort in-memory, same as before
// the WAL store existed.
func New(baseURL string, maxQueueSize int, wal *WALStore) *Client {
	if maxQueueSize <= 0 {
		maxQueueSize = 500
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		wal:        wal,
		maxSize:    maxQueueSize,
		notify:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go c.drain()
	if wal != nil {
		c.replayDoneCh = make(chan struct{})
		go c.replayLoop()
	}
	return c
}

// Close stops the drain worker (and the WAL replay loop, if running).
// Pending in-memory jobs are abandoned; anything already appended to
// the WAL survives for the next replay pass after restart.
func (c *Client) Close() {
	close(c.stopCh)
	<-c.doneCh
	if c.wal != nil {
		<-c.replayDoneCh
	}
}

// appendWAL durably records one pending mutation before it is queued
// for best-effort HTTP delivery. Fire-and-forget like every other I/O
// boundary: a WAL append failure is logged and counted, never
// propagated to the reservoir's command loop.
func (c *Client) appendWAL(operation string, commuter model.Commuter) {
	if c.wal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.wal.Append(ctx, operation, commuter); err != nil {
		log.Printf("[recordstore] WARN: wal append failed for %s: %v", operation, err)
	}
}

// replayLoop periodically leases a batch of undelivered WAL rows and
// resends them, picking up anything the in-memory queue lost to
// overflow or a process restart.
func (c *Client) replayLoop() {
	defer close(c.replayDoneCh)
	ticker := time.NewTicker(walReplayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.replayOnce()
		}
	}
}

func (c *Client) replayOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, commit, err := c.wal.LeaseBatch(ctx, walReplayBatchSize)
	if err != nil {
		log.Printf("[recordstore] WARN: wal lease batch failed: %v", err)
		return
	}
	for _, e := range entries {
		job, ok := walJobFor(e)
		if !ok {
			continue
		}
		c.send(job)
	}
	if err := commit(ctx); err != nil {
		log.Printf("[recordstore] WARN: wal commit failed: %v", err)
		return
	}

	if _, err := c.wal.PruneDelivered(ctx, walPruneAge); err != nil {
		log.Printf("[recordstore] WARN: wal prune failed: %v", err)
	}
}

// walJobFor rebuilds the HTTP write a leased WAL entry represents.
func walJobFor(e WALEntry) (writeJob, bool) {
	var payload passengerPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		log.Printf("[recordstore] WARN: wal entry %d: malformed payload: %v", e.ID, err)
		return writeJob{}, false
	}
	switch e.Operation {
	case walOpInsert:
		return writeJob{method: http.MethodPost, path: "/api/active-passengers", body: payload}, true
	case walOpMarkBoarded:
		return writeJob{method: http.MethodPost, path: fmt.Sprintf("/api/active-passengers/mark-boarded/%s", payload.PassengerID)}, true
	case walOpMarkExpired:
		return writeJob{method: http.MethodPost, path: fmt.Sprintf("/api/active-passengers/mark-alighted/%s", payload.PassengerID)}, true
	default:
		log.Printf("[recordstore] WARN: wal entry %d: unknown operation %q", e.ID, e.Operation)
		return writeJob{}, false
	}
}

func (c *Client) enqueue(job writeJob) {
	c.mu.Lock()
	if len(c.queue) >= c.maxSize {
		c.queue = c.queue[1:]
		c.dropped++
		log.Printf("[recordstore] WARN: write queue full, dropped oldest pending write (total dropped=%d)", c.dropped)
	}
	c.queue = append(c.queue, job)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Client) drain() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.notify:
			c.drainOnce()
		case <-time.After(time.Second):
			c.drainOnce()
		}
	}
}

func (c *Client) drainOnce() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		job := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.send(job)
	}
}

func (c *Client) send(job writeJob) {
	var buf bytes.Buffer
	if job.body != nil {
		if err := json.NewEncoder(&buf).Encode(job.body); err != nil {
			log.Printf("[recordstore] ERROR: encode %s %s: %v", job.method, job.path, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, job.method, c.baseURL+job.path, &buf)
	if err != nil {
		log.Printf("[recordstore] ERROR: build request %s %s: %v", job.method, job.path, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[recordstore] WARN: request failed %s %s: %v", job.method, job.path, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Printf("[recordstore] WARN: %s %s returned status %d", job.method, job.path, resp.StatusCode)
	}
}

// Insert durably logs, then queues, a POST /api/active-passengers write.
func (c *Client) Insert(commuter model.Commuter) {
	c.appendWAL(walOpInsert, commuter)
	c.enqueue(writeJob{method: http.MethodPost, path: "/api/active-passengers", body: toPayload(commuter)})
}

// MarkBoarded durably logs, then queues, a POST
// /api/active-passengers/mark-boarded/{id} write.
func (c *Client) MarkBoarded(commuter model.Commuter) {
	c.appendWAL(walOpMarkBoarded, commuter)
	path := fmt.Sprintf("/api/active-passengers/mark-boarded/%s", commuter.CommuterID)
	c.enqueue(writeJob{method: http.MethodPost, path: path})
}

// MarkExpired durably logs, then queues, a POST
// /api/active-passengers/mark-alighted/{id} write — the record store
// has no distinct "expired" endpoint, so an expired commuter is marked
// alighted to remove it from the store's active set.
func (c *Client) MarkExpired(commuter model.Commuter) {
	c.appendWAL(walOpMarkExpired, commuter)
	path := fmt.Sprintf("/api/active-passengers/mark-alighted/%s", commuter.CommuterID)
	c.enqueue(writeJob{method: http.MethodPost, path: path})
}

// CleanupExpired queues the server-side batch cleanup call.
func (c *Client) CleanupExpired() {
	c.enqueue(writeJob{method: http.MethodDelete, path: "/api/active-passengers/cleanup/expired"})
}

// DroppedCount reports how many queued writes have been dropped for
// capacity since startup.
func (c *Client) DroppedCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
