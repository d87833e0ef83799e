// Package eventbus publishes commuter lifecycle transitions to NATS
// and subscribes to the handful of subjects the reservoir subsystem
// consumes from the vehicle simulator. It is the sole implementation
// of reservoir.EventEmitter used outside of tests.
package eventbus

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/arknet/commuter-reservoir/internal/model"
)

// Envelope is the wire shape of every message on the bus: an event
// type, a timestamp, an opaque payload, and an optional correlation id.
// The correlation id is set only on query responses, echoing the id the
// vehicle sent with its vehicle.query_commuters request.
type Envelope struct {
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

const (
	eventSpawned       = "commuter.spawned"
	eventPickedUp      = "commuter.picked_up"
	eventExpired       = "commuter.expired"
	eventQueryResponse = "commuter.query_response"

	subjectQueryCommuters = "vehicle.query_commuters"
	subjectPickupNotify   = "commuter.pickup_notify"
)

// Bus wraps a NATS connection and satisfies reservoir.EventEmitter.
// Every Emit* call is fire-and-forget: a publish failure (bus down,
// connection draining) is logged and counted, never returned to the
// reservoir's command loop (spec.md's EventBusUnavailable policy).
type Bus struct {
	conn *nats.Conn

	dropped atomic.Int64
}

// Connect dials the NATS server at url. Reconnect handling is left to
// the client library's built-in retry loop (nats.go reconnects
// automatically by default), which matches the "drop rather than
// buffer indefinitely" policy better than a hand-rolled retry queue.
func Connect(url string) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[eventbus] WARN: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("[eventbus] INFO: reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Bus{conn: conn}, nil
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
	}
}

// DroppedCount reports how many publishes have failed since startup.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

func (b *Bus) publish(subject, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[eventbus] ERROR: marshal %s: %v", eventType, err)
		b.dropped.Add(1)
		return
	}
	env := Envelope{EventType: eventType, Timestamp: time.Now(), Data: data}
	raw, err := json.Marshal(env)
	if err != nil {
		log.Printf("[eventbus] ERROR: marshal envelope %s: %v", eventType, err)
		b.dropped.Add(1)
		return
	}
	if err := b.conn.Publish(subject, raw); err != nil {
		log.Printf("[eventbus] WARN: publish %s dropped: %v", eventType, err)
		b.dropped.Add(1)
	}
}

// EmitSpawned publishes a commuter.spawned event.
func (b *Bus) EmitSpawned(c model.Commuter) {
	b.publish(eventSpawned, eventSpawned, toWire(c))
}

// EmitPickedUp publishes a commuter.picked_up event.
func (b *Bus) EmitPickedUp(c model.Commuter) {
	b.publish(eventPickedUp, eventPickedUp, toWire(c))
}

// EmitExpired publishes a commuter.expired event.
func (b *Bus) EmitExpired(c model.Commuter) {
	b.publish(eventExpired, eventExpired, toWire(c))
}

// EmitQueryResponse publishes the result of a vehicle's pickup query,
// tagged with the correlation id the vehicle supplied on its request.
func (b *Bus) EmitQueryResponse(correlationID string, commuters []model.Commuter) {
	wire := make([]commuterWire, 0, len(commuters))
	for _, c := range commuters {
		wire = append(wire, toWire(c))
	}
	data, err := json.Marshal(wire)
	if err != nil {
		b.dropped.Add(1)
		return
	}
	env := Envelope{EventType: eventQueryResponse, Timestamp: time.Now(), Data: data, CorrelationID: correlationID}
	raw, err := json.Marshal(env)
	if err != nil {
		b.dropped.Add(1)
		return
	}
	if err := b.conn.Publish(subjectQueryResponseFor(correlationID), raw); err != nil {
		log.Printf("[eventbus] WARN: publish query response dropped: %v", err)
		b.dropped.Add(1)
	}
}

func subjectQueryResponseFor(correlationID string) string {
	if correlationID == "" {
		return eventQueryResponse
	}
	return eventQueryResponse + "." + correlationID
}

// QueryRequest is the payload of a vehicle.query_commuters message.
type QueryRequest struct {
	RouteShortName string          `json:"route_short_name"`
	DepotID        string          `json:"depot_id,omitempty"`
	VehicleLocation model.GeoPoint `json:"vehicle_location"`
	Direction       model.Direction `json:"direction,omitempty"`
	MaxDistanceM    float64         `json:"max_distance_m"`
	MaxCount        int             `json:"max_count"`
	CorrelationID   string          `json:"correlation_id"`
}

// PickupNotification is the payload of a commuter.pickup_notify message.
type PickupNotification struct {
	CommuterID uuid.UUID `json:"commuter_id"`
}

// SubscribeQueryCommuters registers handler for every vehicle.query_commuters
// message. Returns an unsubscribe function.
func (b *Bus) SubscribeQueryCommuters(handler func(QueryRequest)) (func(), error) {
	sub, err := b.conn.Subscribe(subjectQueryCommuters, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[eventbus] WARN: malformed query_commuters envelope: %v", err)
			return
		}
		var req QueryRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			log.Printf("[eventbus] WARN: malformed query_commuters payload: %v", err)
			return
		}
		if req.CorrelationID == "" {
			req.CorrelationID = env.CorrelationID
		}
		handler(req)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// SubscribePickupNotify registers handler for every
// commuter.pickup_notify message. Returns an unsubscribe function.
func (b *Bus) SubscribePickupNotify(handler func(PickupNotification)) (func(), error) {
	sub, err := b.conn.Subscribe(subjectPickupNotify, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("[eventbus] WARN: malformed pickup_notify envelope: %v", err)
			return
		}
		var note PickupNotification
		if err := json.Unmarshal(env.Data, &note); err != nil {
			log.Printf("[eventbus] WARN: malformed pickup_notify payload: %v", err)
			return
		}
		handler(note)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// commuterWire is the JSON-friendly projection of model.Commuter used
// on the wire; uuid.UUID and time.Time already marshal sensibly, so
// this mostly exists to pin the field set independent of internal
// struct layout changes.
type commuterWire struct {
	CommuterID      uuid.UUID       `json:"commuter_id"`
	CurrentPosition model.GeoPoint  `json:"current_position"`
	Destination     model.GeoPoint  `json:"destination"`
	Direction       model.Direction `json:"direction"`
	Priority        float64         `json:"priority"`
	SpawnTime       time.Time       `json:"spawn_time"`
	TripPurpose     model.TripPurpose `json:"trip_purpose"`
	AssignedRoute   string          `json:"assigned_route"`
	BoundDepotID    string          `json:"bound_depot_id,omitempty"`
	Status          model.CommuterStatus `json:"status"`
}

func toWire(c model.Commuter) commuterWire {
	return commuterWire{
		CommuterID:      c.CommuterID,
		CurrentPosition: c.CurrentPosition,
		Destination:     c.DestinationPosition,
		Direction:       c.Direction,
		Priority:        c.Priority,
		SpawnTime:       c.SpawnTime,
		TripPurpose:     c.TripPurpose,
		AssignedRoute:   c.AssignedRoute,
		BoundDepotID:    c.BoundDepotID,
		Status:          c.Status,
	}
}
