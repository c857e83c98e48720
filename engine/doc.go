// Package engine links graphics modules against the host boundary on wazero.
//
// # Architecture
//
//	WazeroEngine   - owns the wazero runtime, compiles and links modules
//	Imports        - the named host function table (one import namespace)
//	WazeroInstance - a linked module with its memory bound to the arena
//
// # Instantiation Flow
//
//  1. The import table is checked for the required arena and handle functions
//  2. The module is compiled and its imports are matched by name and type
//  3. closure_invoke_<n> exports define the callback invoker table
//  4. The host module is registered and the module instantiated without
//     running start functions
//  5. The arena is bound to the exported memory
//
// Any failure in these steps is a link_error; nothing in the module has run.
//
// # Host Surface
//
// BoundaryImports builds the surface under namespace "gfx":
//
//	Import                                  Core type
//	─────────────────────────────────────────────────────────────────
//	arena_alloc(size, align)                (i32, i32) -> i32
//	arena_realloc(ptr, old, align, new)     (i32, i32, i32, i32) -> i32
//	arena_free(ptr, size, align)            (i32, i32, i32) -> ()
//	handle_alloc()                          () -> i32
//	handle_free(h) / handle_clone(h)        (i32) -> () / (i32) -> i32
//	extern_len(ref) / extern_copy(ref, p)   (externref) -> i32 / (externref, i32) -> ()
//	render_bundle_create(label)             (i32) -> i32
//	render_bundle_set_pipeline(b, p)        (i32, i64) -> ()
//	render_bundle_finish(b)                 (i32) -> i64
//	closure_register(tag, state, meta)      (i32, i32, i32) -> i32
//	event_subscribe(kind, slot)             (i32, i32) -> ()
//
// Host errors trap the module; the error surfaces from the call that entered
// it. Arena exhaustion is the exception and returns offset 0.
//
// # Thread Safety
//
// WazeroEngine is safe for concurrent use. Calls into a WazeroInstance must
// be serialized by the caller; the runtime package does this.
package engine
