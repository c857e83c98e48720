package resource

import (
	"sync"

	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// Table maps small integer handles to shared host values.
// Every operation on a handle that is not live fails with an
// invalid_handle error.
type Table struct {
	backend   *LocalBackend
	observers map[int]Observer
	order     []int
	nextObs   int
	obsMu     sync.RWMutex
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		backend:   NewLocalBackend(),
		observers: make(map[int]Observer),
	}
}

// Alloc reserves an empty untyped slot with one reference.
func (t *Table) Alloc() (Handle, error) {
	return t.InsertTyped(TypeAny, nil)
}

// Insert stores an untyped value and returns its handle.
func (t *Table) Insert(value any) (Handle, error) {
	return t.InsertTyped(TypeAny, value)
}

// InsertTyped stores a value under typeID and returns its handle.
func (t *Table) InsertTyped(typeID TypeID, value any) (Handle, error) {
	handle, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0, err
	}

	t.notify(Event{
		Type:   EventCreated,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
		Refs:   1,
	})
	return handle, nil
}

// Set stores value in a live slot.
func (t *Table) Set(handle Handle, value any) error {
	return t.backend.Set(handle, value)
}

// Get returns the value behind a live handle.
func (t *Table) Get(handle Handle) (any, error) {
	v, _, err := t.backend.Get(handle)
	return v, err
}

// GetTyped returns the value only if the slot was inserted with typeID.
func (t *Table) GetTyped(handle Handle, typeID TypeID) (any, error) {
	v, actual, err := t.backend.Get(handle)
	if err != nil {
		return nil, err
	}
	if actual != typeID {
		return nil, errors.New(errors.PhaseHandle, errors.KindTypeMismatch).
			Value(handle).
			Detail("handle %d has type %d, want %d", handle, actual, typeID).
			Build()
	}
	return v, nil
}

// Retain adds a reference to a live handle.
func (t *Table) Retain(handle Handle) error {
	refs, err := t.backend.Retain(handle)
	if err != nil {
		return err
	}
	t.notify(Event{Type: EventRetained, Handle: handle, Refs: refs})
	return nil
}

// Free drops one reference. The last reference releases the slot, runs the
// value's Drop method if it has one, and makes the handle reusable.
func (t *Table) Free(handle Handle) error {
	value, typeID, dropped, err := t.backend.Release(handle)
	if err != nil || !dropped {
		return err
	}

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}

	t.notify(Event{
		Type:   EventDropped,
		Handle: handle,
		TypeID: typeID,
		Value:  value,
	})
	return nil
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Each iterates over live handles in ascending order.
func (t *Table) Each(fn func(Handle, any) bool) {
	t.backend.Each(func(h Handle, _ TypeID, v any) bool {
		return fn(h, v)
	})
}

// Subscribe adds an observer and returns a function that removes it.
func (t *Table) Subscribe(o Observer) (unsubscribe func()) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()

	id := t.nextObs
	t.nextObs++
	t.observers[id] = o
	t.order = append(t.order, id)

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		delete(t.observers, id)
		for i, x := range t.order {
			if x == id {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
}

// Close releases every live value and stops accepting inserts.
func (t *Table) Close() error {
	for _, v := range t.backend.Close() {
		if d, ok := v.(Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, id := range t.order {
		t.observers[id].OnResourceEvent(e)
	}
}
