package reservoir

import (
	"github.com/arknet/commuter-reservoir/internal/model"
)

// EventEmitter is the reservoir's outbound boundary to the event bus.
// Implementations must never block the reservoir's command loop:
// per spec §7, an unavailable event bus drops events (counted) rather
// than buffering indefinitely, so Emit takes no context and returns
// nothing — it is fire-and-forget from the reservoir's point of view.
type EventEmitter interface {
	EmitSpawned(c model.Commuter)
	EmitPickedUp(c model.Commuter)
	EmitExpired(c model.Commuter)
}

// RecordStoreWriter is the reservoir's outbound boundary to the
// external passenger record store. Like EventEmitter, writes are
// fire-and-forget from the reservoir's perspective; the implementation
// owns its own bounded queue and back-pressure policy (spec §5: the
// in-memory reservoir is authoritative, the record store is a mirror).
type RecordStoreWriter interface {
	Insert(c model.Commuter)
	MarkBoarded(c model.Commuter)
	MarkExpired(c model.Commuter)
}

// noopEmitter and noopWriter let tests and standalone reservoir use
// construct a reservoir without wiring real network clients.
type noopEmitter struct{}

func (noopEmitter) EmitSpawned(model.Commuter)  {}
func (noopEmitter) EmitPickedUp(model.Commuter) {}
func (noopEmitter) EmitExpired(model.Commuter)  {}

type noopWriter struct{}

func (noopWriter) Insert(model.Commuter)      {}
func (noopWriter) MarkBoarded(model.Commuter) {}
func (noopWriter) MarkExpired(model.Commuter) {}
