package resource

import (
	"sync"

	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// LocalBackend is the in-memory slot store behind a Table.
// Slots are reference counted; a slot returns to the free list when its
// count reaches zero.
type LocalBackend struct {
	entries  []entry
	freeList []Handle
	mu       sync.RWMutex
	closed   bool
}

type entry struct {
	value  any
	typeID TypeID
	refs   uint32
	valid  bool
}

// NewLocalBackend creates a new in-memory backend.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Create stores a value with one reference and returns its handle.
func (b *LocalBackend) Create(typeID TypeID, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errClosed()
	}

	e := entry{
		typeID: typeID,
		value:  value,
		refs:   1,
		valid:  true,
	}

	if len(b.freeList) > 0 {
		handle := b.freeList[len(b.freeList)-1]
		b.freeList = b.freeList[:len(b.freeList)-1]
		b.entries[handle-1] = e
		return handle, nil
	}

	b.entries = append(b.entries, e)
	return Handle(len(b.entries)), nil
}

// Set replaces the value stored in a live slot, keeping its type and count.
func (b *LocalBackend) Set(handle Handle, value any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.live(handle)
	if err != nil {
		return err
	}
	e.value = value
	return nil
}

// Get retrieves a value and its type by handle.
func (b *LocalBackend) Get(handle Handle) (any, TypeID, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, err := b.live(handle)
	if err != nil {
		return nil, 0, err
	}
	return e.value, e.typeID, nil
}

// Retain adds a reference and returns the new count.
func (b *LocalBackend) Retain(handle Handle) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.live(handle)
	if err != nil {
		return 0, err
	}
	e.refs++
	return e.refs, nil
}

// Release drops one reference. When the count reaches zero the slot is
// freed and its value returned with dropped set.
func (b *LocalBackend) Release(handle Handle) (value any, typeID TypeID, dropped bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.live(handle)
	if err != nil {
		return nil, 0, false, err
	}

	e.refs--
	if e.refs > 0 {
		return e.value, e.typeID, false, nil
	}

	value, typeID = e.value, e.typeID
	*e = entry{}
	b.freeList = append(b.freeList, handle)
	return value, typeID, true, nil
}

// Len returns the number of live slots.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries) - len(b.freeList)
}

// Each iterates over live slots in handle order. Return false to stop.
func (b *LocalBackend) Each(fn func(Handle, TypeID, any) bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, e := range b.entries {
		if !e.valid {
			continue
		}
		if !fn(Handle(i+1), e.typeID, e.value) {
			return
		}
	}
}

// Close frees every slot regardless of count and returns the values that
// were still live.
func (b *LocalBackend) Close() []any {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var values []any
	for i := range b.entries {
		if b.entries[i].valid {
			values = append(values, b.entries[i].value)
		}
	}
	b.entries = nil
	b.freeList = nil
	return values
}

func (b *LocalBackend) live(handle Handle) (*entry, error) {
	if handle == 0 || int(handle) > len(b.entries) {
		return nil, errors.InvalidHandle(errors.PhaseHandle, "handle", uint64(handle))
	}
	e := &b.entries[handle-1]
	if !e.valid {
		return nil, errors.InvalidHandle(errors.PhaseHandle, "handle", uint64(handle))
	}
	return e, nil
}

func errClosed() error {
	return errors.InvalidState(errors.PhaseHandle, "insert", "closed")
}
