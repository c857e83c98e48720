// Package demo synthesizes a small graphics module against the gfx import
// surface. The CLI runs it with `gfxbridge demo`; tests use it as a known
// guest.
package demo

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/internal/wasmbin"
)

// Offsets in the module's first page where it keeps its state.
const (
	ResizeCount  = 0
	Width        = 4
	Height       = 8
	InputCount   = 12
	InputCode    = 16
	MessageCount = 20
	MessageLen   = 24
	FrameBundle  = 32 // i64 device handle of the frame bundle
	Started      = 40
	Scratch      = 44 // arena offset reserved by __start
	CanvasLen    = 48
	ResizeSlot   = 64
	InputSlot    = 68
	MessageSlot  = 72
	FrameLabel   = 256
	MessageBuf   = 1024
)

// Closure tags exported by the module.
const (
	TagResize  = 0
	TagInput   = 1
	TagMessage = 2
)

// Event kinds as the runtime numbers them.
const (
	kindResize  = 1
	kindInput   = 2
	kindMessage = 3
)

// Pipeline and VertexBuffer are the resource ids the frame bundle binds.
const (
	Pipeline     = 1
	VertexBuffer = 2
)

const (
	i32       = api.ValueTypeI32
	externref = api.ValueTypeExternref
)

var surface = engine.BoundaryImports(engine.DefaultNamespace, &engine.Boundary{})

func importGfx(m *wasmbin.Module, name string) uint32 {
	f, ok := surface.Lookup(name)
	if !ok {
		panic("demo: unknown import " + name)
	}
	return m.ImportFunc(engine.DefaultNamespace, name, wasmbin.Sig(f.Params, f.Results...))
}

// increment adds one to the i32 at addr.
func increment(addr int32) []byte {
	return wasmbin.Seq(
		wasmbin.I32Const(addr),
		wasmbin.I32Const(addr), wasmbin.I32Load(0),
		wasmbin.I32Const(1), wasmbin.I32Add(),
		wasmbin.I32Store(0),
	)
}

// Module returns the demo binary.
//
// __start reserves a scratch buffer from the arena. run_entry records a
// frame bundle (debug group, pipeline, vertex buffer, one triangle), then
// registers and subscribes one closure per event kind. The closures count
// events and keep the latest values at the offsets above.
func Module() []byte {
	m := wasmbin.New()
	p := wasmbin.Params

	alloc := importGfx(m, engine.ImportArenaAlloc)
	create := importGfx(m, engine.ImportBundleCreate)
	pushGroup := importGfx(m, engine.ImportBundlePushDebugGroup)
	setPipeline := importGfx(m, engine.ImportBundleSetPipeline)
	setVertex := importGfx(m, engine.ImportBundleSetVertexBuffer)
	draw := importGfx(m, engine.ImportBundleDraw)
	popGroup := importGfx(m, engine.ImportBundlePopDebugGroup)
	finish := importGfx(m, engine.ImportBundleFinish)
	register := importGfx(m, engine.ImportClosureRegister)
	subscribe := importGfx(m, engine.ImportEventSubscribe)
	externLen := importGfx(m, engine.ImportExternLen)
	externCopy := importGfx(m, engine.ImportExternCopy)

	m.Memory(1, engine.MemoryExport)
	m.Data(FrameLabel, []byte("frame\x00"))

	m.ExportFunc(engine.StartExport, m.Func(wasmbin.Sig(nil), nil,
		wasmbin.I32Const(Started), wasmbin.I32Const(1), wasmbin.I32Store(0),
		wasmbin.I32Const(Scratch),
		wasmbin.I32Const(256), wasmbin.I32Const(16), wasmbin.Call(alloc),
		wasmbin.I32Store(0),
	))

	m.ExportFunc("closure_invoke_0", m.Func(wasmbin.Sig(p(i32, i32, i32, i32)), nil,
		increment(ResizeCount),
		wasmbin.I32Const(Width), wasmbin.LocalGet(2), wasmbin.I32Store(0),
		wasmbin.I32Const(Height), wasmbin.LocalGet(3), wasmbin.I32Store(0),
	))
	m.ExportFunc("closure_invoke_1", m.Func(wasmbin.Sig(p(i32, i32, i32)), nil,
		increment(InputCount),
		wasmbin.I32Const(InputCode), wasmbin.LocalGet(2), wasmbin.I32Store(0),
	))
	m.ExportFunc("closure_invoke_2", m.Func(wasmbin.Sig(p(i32, i32, externref)), nil,
		increment(MessageCount),
		wasmbin.I32Const(MessageLen), wasmbin.LocalGet(2), wasmbin.Call(externLen), wasmbin.I32Store(0),
		wasmbin.LocalGet(2), wasmbin.I32Const(MessageBuf), wasmbin.Call(externCopy),
	))

	const bundle = 6 // first local after the six entry params
	m.ExportFunc(engine.EntryExport, m.Func(wasmbin.Sig(p(i32, i32, i32, i32, i32, i32)), p(i32),
		wasmbin.I32Const(CanvasLen), wasmbin.LocalGet(1), wasmbin.I32Store(0),

		wasmbin.I32Const(FrameLabel), wasmbin.Call(create), wasmbin.LocalSet(bundle),
		wasmbin.LocalGet(bundle), wasmbin.I32Const(FrameLabel), wasmbin.Call(pushGroup),
		wasmbin.LocalGet(bundle), wasmbin.I64Const(Pipeline), wasmbin.Call(setPipeline),
		wasmbin.LocalGet(bundle), wasmbin.I32Const(0), wasmbin.I64Const(VertexBuffer),
		wasmbin.I64Const(0), wasmbin.I64Const(0), wasmbin.Call(setVertex),
		wasmbin.LocalGet(bundle), wasmbin.I32Const(3), wasmbin.I32Const(1),
		wasmbin.I32Const(0), wasmbin.I32Const(0), wasmbin.Call(draw),
		wasmbin.LocalGet(bundle), wasmbin.Call(popGroup),
		wasmbin.I32Const(FrameBundle), wasmbin.LocalGet(bundle), wasmbin.Call(finish), wasmbin.I64Store(0),

		subscribeClosure(register, subscribe, TagResize, kindResize, ResizeSlot),
		subscribeClosure(register, subscribe, TagInput, kindInput, InputSlot),
		subscribeClosure(register, subscribe, TagMessage, kindMessage, MessageSlot),
	))

	return m.Encode()
}

// subscribeClosure registers a closure for tag, stores its slot at addr and
// subscribes it to kind.
func subscribeClosure(register, subscribe uint32, tag, kind, addr int32) []byte {
	return wasmbin.Seq(
		wasmbin.I32Const(addr),
		wasmbin.I32Const(tag), wasmbin.I32Const(0), wasmbin.I32Const(0), wasmbin.Call(register),
		wasmbin.I32Store(0),
		wasmbin.I32Const(kind), wasmbin.I32Const(addr), wasmbin.I32Load(0), wasmbin.Call(subscribe),
	)
}
