package resource

// Handle is an opaque reference to a value in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// TypeID tags what a handle points at so a handle of one kind cannot be
// used where another is expected.
type TypeID uint32

const (
	TypeAny     TypeID = iota // untyped slot, e.g. reserved by the module
	TypeExtern                // opaque host payload passed as externref
	TypeClosure               // callback bridge entry
)

// Event types for handle lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventRetained
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	case EventRetained:
		return "retained"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID TypeID
	Refs   uint32
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when their
// last reference is released.
type Dropper interface {
	Drop()
}
