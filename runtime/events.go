package runtime

import (
	"fmt"
	"slices"
	"sync"

	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

// EventKind is the number a module passes to event_subscribe.
type EventKind uint32

const (
	KindResize  EventKind = 1 + iota // (width i32, height i32)
	KindInput                        // (code i32)
	KindMessage                      // (payload externref)
)

var kindNames = map[EventKind]string{
	KindResize:  "resize",
	KindInput:   "input",
	KindMessage: "message",
}

var kindShapes = map[EventKind]callback.Signature{
	KindResize:  callback.Sig(callback.KindI32, callback.KindI32),
	KindInput:   callback.Sig(callback.KindI32),
	KindMessage: callback.Sig(callback.KindExtern),
}

func (k EventKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint32(k))
}

// Signature returns the closure shape subscribers of k must have.
func (k EventKind) Signature() (callback.Signature, bool) {
	sig, ok := kindShapes[k]
	return sig, ok
}

// Event is an external occurrence delivered to subscribed closures.
type Event struct {
	Args []callback.Value
	Kind EventKind
}

// EventResize reports a new canvas size.
func EventResize(width, height int32) Event {
	return Event{Kind: KindResize, Args: []callback.Value{callback.I32(width), callback.I32(height)}}
}

// EventInput reports an input code such as a key.
func EventInput(code int32) Event {
	return Event{Kind: KindInput, Args: []callback.Value{callback.I32(code)}}
}

// EventMessage hands subscribers an extern handle. The handle must stay
// live until dispatch returns; subscribers that keep it clone it.
func EventMessage(payload resource.Handle) Event {
	return Event{Kind: KindMessage, Args: []callback.Value{callback.Extern(payload)}}
}

// subscriptions maps event kinds to closure slots in subscription order.
type subscriptions struct {
	slots map[EventKind][]resource.Handle
	mu    sync.Mutex
}

func newSubscriptions() *subscriptions {
	return &subscriptions{slots: make(map[EventKind][]resource.Handle)}
}

// add appends slot to kind. A slot is subscribed to a kind at most once.
func (s *subscriptions) add(kind EventKind, slot resource.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.slots[kind], slot) {
		return
	}
	s.slots[kind] = append(s.slots[kind], slot)
}

// remove drops slot from every kind.
func (s *subscriptions) remove(slot resource.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, slots := range s.slots {
		if i := slices.Index(slots, slot); i >= 0 {
			s.slots[kind] = slices.Delete(slots, i, i+1)
		}
	}
}

func (s *subscriptions) list(kind EventKind) []resource.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.slots[kind])
}

func (s *subscriptions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, slots := range s.slots {
		n += len(slots)
	}
	return n
}

// checkSubscription validates a subscribe request against the bridge.
func checkSubscription(bridge *callback.Bridge, kind EventKind, slot resource.Handle) error {
	want, ok := kind.Signature()
	if !ok {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Value(uint32(kind)).
			Detail("unknown event kind %d", uint32(kind)).
			Build()
	}
	got, err := bridge.SignatureOf(slot)
	if err != nil {
		return err
	}
	if got != want {
		return errors.TypeMismatch(errors.PhaseRuntime,
			fmt.Sprintf("%s subscribers take %s, slot %d takes %s", kind, want, slot, got))
	}
	return nil
}
