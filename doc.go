// Package gfxbridge is the host side of the boundary between a WebAssembly
// graphics module and a GPU device.
//
// A module imports a small set of host functions from the "gfx" namespace to
// allocate linear memory, hold host objects by handle, register callback
// closures and record render bundles. The host runs the module on wazero,
// feeds it events and replays the bundles it finalizes.
//
// # Architecture Overview
//
//	gfxbridge/           Root package with the Memory and Allocator interfaces
//	├── arena/           Linear memory allocator over a growable Memory
//	├── resource/        Generational handle table for host objects
//	├── callback/        Closure registry and invoker bridge
//	├── bundle/          Render bundle recorder and device collaborators
//	├── engine/          wazero integration and the gfx import surface
//	├── runtime/         High-level API: load, run, dispatch events
//	├── config/          GFXBRIDGE_* environment configuration and logging
//	├── gateway/         Session gateway relay over websocket
//	├── errors/          Structured error types for debugging
//	└── cmd/gfxbridge/   CLI with an interactive TUI
//
// # Quick Start
//
//	dev := bundle.NewMemoryDevice()
//	rt, err := runtime.New(ctx, config.Default(), runtime.WithDevice(dev))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	inst, err := rt.Load(ctx, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := inst.Run(ctx, "main", "", ""); err != nil {
//	    log.Fatal(err)
//	}
//
//	err = inst.Dispatch(ctx, runtime.EventResize(1280, 720))
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. The arena hands out
// offsets, never views, so nothing the host holds is invalidated when a
// grow moves the backing store.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Calls into an Instance are serialized
// so events may arrive from several goroutines.
package gfxbridge
