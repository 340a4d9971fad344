package events

// Event is a structured record of an engine state change, identified by its
// type string.
type Event interface {
	EventType() string
}

// Emitter receives events as operations commit. Sinks include the daemon's
// structured log and any future indexer.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything. It is the engine's default so event wiring
// stays optional.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
