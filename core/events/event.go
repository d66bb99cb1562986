package events

// Event is a typed record of a swap ledger or registry state change. Each
// implementation exposes its attributes as strings so subscribers can relay
// them without knowing the concrete type.
type Event interface {
	EventType() string
}

// Emitter receives events from the native engines. Implementations must not
// block; emission happens inside engine critical sections.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards everything. Engines fall back to it when no subscriber
// is wired.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}
