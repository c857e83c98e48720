package gfxbridge

// PageSize is the WebAssembly linear memory page size in bytes.
const PageSize = 65536

// Memory is the linear memory shared between the host and a module.
// Views are never handed out: Read returns a copy, so nothing obtained from
// a Memory survives a Grow that relocates the backing store.
type Memory interface {
	// Size returns the current size in bytes.
	Size() uint32

	// Grow adds deltaPages pages and returns the previous size in pages.
	// ok is false when the memory cannot grow that far.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)

	// Read copies length bytes starting at offset.
	Read(offset, length uint32) ([]byte, error)

	// Write copies data into memory at offset.
	Write(offset uint32, data []byte) error
}

// Allocator hands out regions of a Memory by offset.
type Allocator interface {
	Allocate(size, align uint32) (uint32, error)
	Reallocate(offset, oldSize, align, newSize uint32) (uint32, error)
	Free(offset, size, align uint32) error
}
