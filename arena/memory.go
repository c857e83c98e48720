package arena

import (
	"sync"

	gfxbridge "github.com/wippyai/wasm-gfx-bridge"
	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// SliceMemory is an in-process linear memory backed by a byte slice.
// Grow reallocates the slice, so the backing store moves like a real
// module memory does.
type SliceMemory struct {
	buf      []byte
	maxPages uint32
	mu       sync.RWMutex
}

var _ gfxbridge.Memory = (*SliceMemory)(nil)

// NewSliceMemory creates a memory of initialPages that may grow to maxPages.
func NewSliceMemory(initialPages, maxPages uint32) *SliceMemory {
	maxPages = min(maxPages, 1<<16-1)
	if initialPages > maxPages {
		maxPages = initialPages
	}
	return &SliceMemory{
		buf:      make([]byte, uint64(initialPages)*gfxbridge.PageSize),
		maxPages: maxPages,
	}
}

func (m *SliceMemory) Size() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.buf))
}

func (m *SliceMemory) Grow(deltaPages uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := uint32(len(m.buf) / gfxbridge.PageSize)
	if uint64(prev)+uint64(deltaPages) > uint64(m.maxPages) {
		return prev, false
	}
	if deltaPages == 0 {
		return prev, true
	}
	buf := make([]byte, uint64(prev+deltaPages)*gfxbridge.PageSize)
	copy(buf, m.buf)
	m.buf = buf
	return prev, true
}

func (m *SliceMemory) Read(offset, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if uint64(offset)+uint64(length) > uint64(len(m.buf)) {
		return nil, errors.OutOfBounds(errors.PhaseArena, offset, length, uint32(len(m.buf)))
	}
	out := make([]byte, length)
	copy(out, m.buf[offset:])
	return out, nil
}

func (m *SliceMemory) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if uint64(offset)+uint64(len(data)) > uint64(len(m.buf)) {
		return errors.OutOfBounds(errors.PhaseArena, offset, uint32(len(data)), uint32(len(m.buf)))
	}
	copy(m.buf[offset:], data)
	return nil
}
