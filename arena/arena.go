package arena

import (
	"cmp"
	"slices"
	"sync"

	gfxbridge "github.com/wippyai/wasm-gfx-bridge"
	"github.com/wippyai/wasm-gfx-bridge/errors"
)

const (
	// minOffset keeps offset 0 (the module's null pointer) out of the arena.
	minOffset = 16
	// granule is the reservation unit; every block is a multiple of it.
	granule = 8
)

// Stats is a snapshot of arena bookkeeping.
type Stats struct {
	Capacity uint64 // bytes the arena can hand out, excluding module-grown gaps
	InUse    uint64 // reserved bytes held by live allocations
	Live     int    // number of live allocations
	Grows    int    // successful memory grow calls
}

type span struct {
	off  uint64
	size uint64
}

type block struct {
	size     uint32 // size requested by the caller
	reserved uint64 // bytes actually held, multiple of granule
}

// Arena is a first-fit allocator over a growable linear memory.
// Offsets it returns are resolved against the memory on every access, so a
// grow that moves the backing store never invalidates them.
type Arena struct {
	mem   gfxbridge.Memory
	live  map[uint32]block
	free  []span // sorted by offset, coalesced
	base    uint64
	end     uint64
	foreign uint64 // bytes inside [base, end) the module grew for itself
	inUse   uint64
	grows   int
	mu      sync.Mutex
}

var _ gfxbridge.Allocator = (*Arena)(nil)

// New creates an arena that owns all of mem above the reserved low bytes.
func New(mem gfxbridge.Memory) *Arena {
	a := &Arena{}
	a.reset(mem, minOffset)
	return a
}

// Bind points the arena at a module memory. Bytes already present in mem
// belong to the module (data segments, stack); the managed region starts at
// the aligned end of them and grows upward.
func (a *Arena) Bind(mem gfxbridge.Memory) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.live) > 0 {
		return errors.New(errors.PhaseArena, errors.KindInvalidState).
			Detail("cannot rebind with %d live allocations", len(a.live)).
			Build()
	}
	a.reset(mem, uint64(mem.Size()))
	return nil
}

func (a *Arena) reset(mem gfxbridge.Memory, start uint64) {
	if start < minOffset {
		start = minOffset
	}
	start = alignUp(start, granule)
	end := uint64(mem.Size())

	a.mem = mem
	a.live = make(map[uint32]block)
	a.free = a.free[:0]
	a.base = start
	a.end = start
	a.foreign = 0
	a.inUse = 0
	a.grows = 0
	if end > start {
		a.end = end
		a.free = append(a.free, span{off: start, size: end - start})
	}
}

// Memory returns the memory the arena currently manages.
func (a *Arena) Memory() gfxbridge.Memory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mem
}

// Allocate reserves a zeroed region of at least size bytes aligned to align.
func (a *Arena) Allocate(size, align uint32) (uint32, error) {
	if !validAlign(align) {
		return 0, errors.InvalidInput(errors.PhaseArena, "alignment must be a power of two")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	off, err := a.allocate(size, align)
	if err != nil {
		return 0, err
	}
	if err := a.zero(off, size); err != nil {
		a.release(off)
		return 0, err
	}
	return off, nil
}

// Reallocate resizes the block at offset, preserving min(oldSize, newSize)
// leading bytes. The old offset must not be used afterwards.
func (a *Arena) Reallocate(offset, oldSize, align, newSize uint32) (uint32, error) {
	if !validAlign(align) {
		return 0, errors.InvalidInput(errors.PhaseArena, "alignment must be a power of two")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b, err := a.lookup(offset, oldSize)
	if err != nil {
		return 0, err
	}

	want := reserve(newSize)
	if offset%align == 0 {
		if want <= b.reserved {
			a.shrink(offset, b, newSize, want)
			return offset, a.zeroTail(offset, oldSize, newSize)
		}
		if a.extend(offset, b, newSize, want) {
			return offset, a.zeroTail(offset, oldSize, newSize)
		}
	}

	// Copy out before allocating: the allocation may grow memory.
	keep := min(oldSize, newSize)
	data, err := a.mem.Read(offset, keep)
	if err != nil {
		return 0, err
	}

	moved, err := a.allocate(newSize, align)
	if err != nil {
		return 0, err
	}
	if err := a.mem.Write(moved, data); err != nil {
		a.release(moved)
		return 0, err
	}
	if err := a.zeroTail(moved, keep, newSize); err != nil {
		a.release(moved)
		return 0, err
	}
	a.release(offset)
	return moved, nil
}

// Free releases the block at offset. size must match the size it was
// allocated (or last reallocated) with.
func (a *Arena) Free(offset, size, align uint32) error {
	if !validAlign(align) {
		return errors.InvalidInput(errors.PhaseArena, "alignment must be a power of two")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.lookup(offset, size); err != nil {
		return err
	}
	a.release(offset)
	return nil
}

// Size returns the current size of the bound memory in bytes.
func (a *Arena) Size() uint32 {
	a.mu.Lock()
	mem := a.mem
	a.mu.Unlock()
	return mem.Size()
}

// Read copies length bytes at offset out of the current memory.
func (a *Arena) Read(offset, length uint32) ([]byte, error) {
	a.mu.Lock()
	mem := a.mem
	a.mu.Unlock()
	return mem.Read(offset, length)
}

// Write copies data into the current memory at offset.
func (a *Arena) Write(offset uint32, data []byte) error {
	a.mu.Lock()
	mem := a.mem
	a.mu.Unlock()
	return mem.Write(offset, data)
}

// Stats returns current bookkeeping counters.
func (a *Arena) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Capacity: a.end - a.base - a.foreign,
		InUse:    a.inUse,
		Live:     len(a.live),
		Grows:    a.grows,
	}
}

func (a *Arena) lookup(offset, size uint32) (block, error) {
	b, ok := a.live[offset]
	if !ok {
		return block{}, errors.InvalidHandle(errors.PhaseArena, "allocation", uint64(offset))
	}
	if b.size != size {
		return block{}, errors.New(errors.PhaseArena, errors.KindInvalidInput).
			Value(size).
			Detail("allocation %d has size %d, got %d", offset, b.size, size).
			Build()
	}
	return b, nil
}

func (a *Arena) allocate(size, align uint32) (uint32, error) {
	want := reserve(size)
	for attempt := 0; attempt < 2; attempt++ {
		if off, ok := a.fit(want, uint64(align)); ok {
			a.live[uint32(off)] = block{size: size, reserved: want}
			a.inUse += want
			return uint32(off), nil
		}
		if attempt == 0 && !a.grow(want+uint64(align)) {
			break
		}
	}
	return 0, errors.OutOfMemory(errors.PhaseArena, size, align)
}

func (a *Arena) fit(want, align uint64) (uint64, bool) {
	for i, s := range a.free {
		start := alignUp(s.off, align)
		pad := start - s.off
		if pad+want > s.size {
			continue
		}
		tail := span{off: start + want, size: s.size - pad - want}
		switch {
		case pad == 0 && tail.size == 0:
			a.free = slices.Delete(a.free, i, i+1)
		case pad == 0:
			a.free[i] = tail
		case tail.size == 0:
			a.free[i].size = pad
		default:
			a.free[i].size = pad
			a.free = slices.Insert(a.free, i+1, tail)
		}
		return start, true
	}
	return 0, false
}

// grow adds enough whole pages for a block of need bytes at the end of the
// managed region.
func (a *Arena) grow(need uint64) bool {
	if n := len(a.free); n > 0 && uint64(a.mem.Size()) == a.end {
		last := a.free[n-1]
		if last.off+last.size == a.end && last.size < need {
			need -= last.size
		}
	}
	pages := (need + gfxbridge.PageSize - 1) / gfxbridge.PageSize
	if pages > 1<<16 {
		return false
	}
	prev, ok := a.mem.Grow(uint32(pages))
	if !ok {
		return false
	}
	a.grows++

	start := uint64(prev) * gfxbridge.PageSize
	newEnd := start + pages*gfxbridge.PageSize
	// Memory the module grew on its own since the last sync is not ours.
	if start > a.end {
		a.foreign += start - a.end
	} else {
		start = a.end
	}
	if newEnd > start {
		a.insertFree(span{off: start, size: newEnd - start})
	}
	a.end = newEnd
	return true
}

func (a *Arena) shrink(offset uint32, b block, newSize uint32, want uint64) {
	if want < b.reserved {
		a.insertFree(span{off: uint64(offset) + want, size: b.reserved - want})
		a.inUse -= b.reserved - want
	}
	a.live[offset] = block{size: newSize, reserved: want}
}

func (a *Arena) extend(offset uint32, b block, newSize uint32, want uint64) bool {
	next := uint64(offset) + b.reserved
	i, found := slices.BinarySearchFunc(a.free, next, func(s span, off uint64) int {
		return cmp.Compare(s.off, off)
	})
	if !found || a.free[i].size < want-b.reserved {
		return false
	}

	extra := want - b.reserved
	if a.free[i].size == extra {
		a.free = slices.Delete(a.free, i, i+1)
	} else {
		a.free[i].off += extra
		a.free[i].size -= extra
	}
	a.inUse += extra
	a.live[offset] = block{size: newSize, reserved: want}
	return true
}

func (a *Arena) release(offset uint32) {
	b := a.live[offset]
	delete(a.live, offset)
	a.inUse -= b.reserved
	a.insertFree(span{off: uint64(offset), size: b.reserved})
}

func (a *Arena) insertFree(s span) {
	i, _ := slices.BinarySearchFunc(a.free, s.off, func(x span, off uint64) int {
		return cmp.Compare(x.off, off)
	})
	a.free = slices.Insert(a.free, i, s)

	// merge with successor, then predecessor
	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
}

func (a *Arena) zero(offset, size uint32) error {
	if size == 0 {
		return nil
	}
	return a.mem.Write(offset, make([]byte, size))
}

func (a *Arena) zeroTail(offset, from, to uint32) error {
	if to <= from {
		return nil
	}
	return a.mem.Write(offset+from, make([]byte, to-from))
}

func reserve(size uint32) uint64 {
	if size == 0 {
		return granule
	}
	return alignUp(uint64(size), granule)
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func validAlign(align uint32) bool {
	return align != 0 && align&(align-1) == 0
}

