// Package arena manages the linear memory shared between the host and a
// module.
//
// An Arena hands out offsets, never pointers or slices. Every Read and Write
// is resolved against the memory as it is at call time, because growing a
// memory may move its backing store:
//
//	mem := arena.NewSliceMemory(1, 16)
//	a := arena.New(mem)
//
//	off, err := a.Allocate(64, 8)
//	_ = a.Write(off, payload)
//	off, err = a.Reallocate(off, 64, 8, 4096) // off may change
//	_ = a.Free(off, 4096, 8)
//
// After a module is instantiated the arena is rebound to the module's exported
// memory with Bind. Bytes that exist at bind time belong to the module; the
// arena grows the memory and manages only what it added.
package arena
