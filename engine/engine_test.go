package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tetratelabs/wazero/api"

	gfxbridge "github.com/wippyai/wasm-gfx-bridge"
	"github.com/wippyai/wasm-gfx-bridge/arena"
	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/callback"
	werrors "github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/internal/wasmbin"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

var (
	p        = wasmbin.Params
	sig      = wasmbin.Sig
	entrySig = sig(p(i32, i32, i32, i32, i32, i32))
	surface  = BoundaryImports("", &Boundary{})
)

// importGfx imports a boundary function with the type the host provides.
func importGfx(m *wasmbin.Module, name string) uint32 {
	f, ok := surface.Lookup(name)
	if !ok {
		panic("unknown boundary import " + name)
	}
	return m.ImportFunc(DefaultNamespace, name, sig(f.Params, f.Results...))
}

type fixture struct {
	ctx    context.Context
	engine *WazeroEngine
	b      *Boundary
	dev    *bundle.MemoryDevice
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	ctx := context.Background()

	e, err := NewWazeroEngine(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	t.Cleanup(func() { e.Close(ctx) })

	a := arena.New(arena.NewSliceMemory(0, 0))
	table := resource.NewTable()
	dev := bundle.NewMemoryDevice()
	return &fixture{
		ctx:    ctx,
		engine: e,
		dev:    dev,
		b: &Boundary{
			Arena:    a,
			Table:    table,
			Bridge:   callback.NewBridge(table),
			Recorder: bundle.NewRecorder(a, dev),
		},
	}
}

func (f *fixture) instantiate(t *testing.T, bin []byte, imports *Imports) *WazeroInstance {
	t.Helper()
	if imports == nil {
		imports = BoundaryImports("", f.b)
	}
	inst, err := f.engine.Instantiate(f.ctx, bin, imports)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { inst.Close(f.ctx) })
	return inst
}

func readU32(t *testing.T, mem gfxbridge.Memory, off uint32) uint32 {
	t.Helper()
	b, err := mem.Read(off, 4)
	if err != nil {
		t.Fatalf("Read(%d): %v", off, err)
	}
	return binary.LittleEndian.Uint32(b)
}

func emptyModule() []byte {
	return wasmbin.New().Memory(1, MemoryExport).Encode()
}

func TestInstantiate_MissingRequiredImport(t *testing.T) {
	for _, name := range RequiredImports {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			imports := BoundaryImports("", f.b).Remove(name)

			_, err := f.engine.Instantiate(f.ctx, emptyModule(), imports)
			if !errors.Is(err, werrors.ErrLink) {
				t.Fatalf("err = %v, want link_error", err)
			}
			var missing *werrors.MissingImportsError
			if !errors.As(err, &missing) || len(missing.Imports) != 1 || missing.Imports[0].Function != name {
				t.Errorf("missing imports = %+v", missing)
			}

			// nothing was registered, so a complete table still links
			f.instantiate(t, emptyModule(), nil)
		})
	}
}

func TestInstantiate_LinkErrors(t *testing.T) {
	build := func(fn func(m *wasmbin.Module)) []byte {
		m := wasmbin.New()
		fn(m)
		return m.Encode()
	}

	tests := []struct {
		name    string
		bin     []byte
		missing bool
	}{
		{"not wasm", []byte("not a module"), false},
		{"unknown host function", build(func(m *wasmbin.Module) {
			m.ImportFunc(DefaultNamespace, "teleport", sig(nil))
			m.Memory(1, MemoryExport)
		}), true},
		{"foreign namespace", build(func(m *wasmbin.Module) {
			m.ImportFunc("env", ImportArenaAlloc, sig(p(i32, i32), i32))
			m.Memory(1, MemoryExport)
		}), true},
		{"signature mismatch", build(func(m *wasmbin.Module) {
			m.ImportFunc(DefaultNamespace, ImportArenaAlloc, sig(p(i32), i32))
			m.Memory(1, MemoryExport)
		}), false},
		{"no memory export", build(func(m *wasmbin.Module) {
			m.Memory(1, "")
		}), false},
		{"invoker with results", build(func(m *wasmbin.Module) {
			m.Memory(1, MemoryExport)
			m.ExportFunc("closure_invoke_0", m.Func(sig(p(i32, i32), i32), nil, wasmbin.I32Const(0)))
		}), false},
		{"invoker with three args", build(func(m *wasmbin.Module) {
			m.Memory(1, MemoryExport)
			m.ExportFunc("closure_invoke_0", m.Func(sig(p(i32, i32, i32, i32, i32)), nil))
		}), false},
		{"destroy without invoker", build(func(m *wasmbin.Module) {
			m.Memory(1, MemoryExport)
			m.ExportFunc("closure_destroy_4", m.Func(sig(p(i32, i32)), nil))
		}), false},
		{"entry with wrong type", build(func(m *wasmbin.Module) {
			m.Memory(1, MemoryExport)
			m.ExportFunc(EntryExport, m.Func(sig(p(i32)), nil))
		}), false},
		{"start with params", build(func(m *wasmbin.Module) {
			m.Memory(1, MemoryExport)
			m.ExportFunc(StartExport, m.Func(sig(p(i32)), nil))
		}), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.engine.Instantiate(f.ctx, tt.bin, BoundaryImports("", f.b))
			if !errors.Is(err, werrors.ErrLink) {
				t.Fatalf("err = %v, want link_error", err)
			}
			if got := errors.Is(err, &werrors.MissingImportsError{}); got != tt.missing {
				t.Errorf("missing imports cause = %v, want %v (%v)", got, tt.missing, err)
			}
		})
	}
}

func TestInstantiate_OneLiveInstance(t *testing.T) {
	f := newFixture(t, nil)
	inst, err := f.engine.Instantiate(f.ctx, emptyModule(), BoundaryImports("", f.b))
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	_, err = f.engine.Instantiate(f.ctx, emptyModule(), BoundaryImports("", f.b))
	if !errors.Is(err, werrors.ErrInvalidState) {
		t.Fatalf("second Instantiate err = %v, want invalid_state", err)
	}

	if err := inst.Close(f.ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f.instantiate(t, emptyModule(), nil)
}

func TestStart_RunsOnce(t *testing.T) {
	m := wasmbin.New()
	m.Memory(1, MemoryExport)
	m.ExportFunc(StartExport, m.Func(sig(nil), nil,
		wasmbin.I32Const(0),
		wasmbin.I32Const(0),
		wasmbin.I32Load(0),
		wasmbin.I32Const(1),
		wasmbin.I32Add(),
		wasmbin.I32Store(0),
	))
	m.ExportFunc(EntryExport, m.Func(entrySig, nil))

	f := newFixture(t, nil)
	inst := f.instantiate(t, m.Encode(), nil)

	if err := inst.RunEntry(f.ctx, "c", "g", "t"); !errors.Is(err, werrors.ErrInvalidState) {
		t.Fatalf("RunEntry before Start err = %v, want invalid_state", err)
	}
	if _, err := inst.Call(f.ctx, EntryExport, 0, 0, 0, 0, 0, 0); !errors.Is(err, werrors.ErrInvalidState) {
		t.Fatalf("Call before Start err = %v, want invalid_state", err)
	}

	if err := inst.Start(f.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inst.Start(f.ctx); !errors.Is(err, werrors.ErrInvalidState) {
		t.Fatalf("second Start err = %v, want invalid_state", err)
	}
	if got := readU32(t, inst.Memory(), 0); got != 1 {
		t.Errorf("initializer ran %d times, want 1", got)
	}
	if err := inst.RunEntry(f.ctx, "c", "g", "t"); err != nil {
		t.Errorf("RunEntry after Start: %v", err)
	}
}

func TestStart_TrapKeepsEntryUnreachable(t *testing.T) {
	m := wasmbin.New()
	m.Memory(1, MemoryExport)
	m.ExportFunc(StartExport, m.Func(sig(nil), nil, wasmbin.Unreachable()))
	m.ExportFunc(EntryExport, m.Func(entrySig, nil))

	f := newFixture(t, nil)
	inst := f.instantiate(t, m.Encode(), nil)

	if err := inst.Start(f.ctx); !werrors.IsKind(err, werrors.KindTrap) {
		t.Fatalf("Start err = %v, want trap", err)
	}
	if inst.Started() {
		t.Error("Started = true after a trapped initializer")
	}

	err := inst.RunEntry(f.ctx, "c", "g", "t")
	if !errors.Is(err, werrors.ErrInvalidState) {
		t.Fatalf("RunEntry after failed Start err = %v, want invalid_state", err)
	}
	if !werrors.IsKind(err, werrors.KindTrap) {
		t.Errorf("RunEntry err = %v, want the initializer trap as cause", err)
	}
	if _, err := inst.Call(f.ctx, EntryExport, 0, 0, 0, 0, 0, 0); !errors.Is(err, werrors.ErrInvalidState) {
		t.Errorf("Call after failed Start err = %v, want invalid_state", err)
	}
	if err := inst.Start(f.ctx); !errors.Is(err, werrors.ErrInvalidState) {
		t.Errorf("second Start err = %v, want invalid_state", err)
	}
}

func TestStart_WithoutInitializer(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.instantiate(t, emptyModule(), nil)
	if err := inst.Start(f.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !inst.Started() {
		t.Error("Started = false")
	}
	if err := inst.RunEntry(f.ctx, "", "", ""); !werrors.IsKind(err, werrors.KindNotFound) {
		t.Errorf("RunEntry without export err = %v, want not_found", err)
	}
}

func TestRunEntry_RecordsBundle(t *testing.T) {
	m := wasmbin.New()
	create := importGfx(m, ImportBundleCreate)
	setPipeline := importGfx(m, ImportBundleSetPipeline)
	setVertexBuffer := importGfx(m, ImportBundleSetVertexBuffer)
	draw := importGfx(m, ImportBundleDraw)
	finish := importGfx(m, ImportBundleFinish)
	probe := m.ImportFunc(DefaultNamespace, "probe", sig(p(i32, i32)))
	m.Memory(1, MemoryExport)
	m.Data(256, []byte("frame\x00"))

	const bundleID = 6
	m.ExportFunc(EntryExport, m.Func(entrySig, []api.ValueType{i32},
		wasmbin.I32Const(256), wasmbin.Call(create), wasmbin.LocalSet(bundleID),
		wasmbin.LocalGet(bundleID), wasmbin.I64Const(7), wasmbin.Call(setPipeline),
		wasmbin.LocalGet(bundleID), wasmbin.I32Const(0), wasmbin.I64Const(11), wasmbin.I64Const(0), wasmbin.I64Const(64),
		wasmbin.Call(setVertexBuffer),
		wasmbin.LocalGet(bundleID), wasmbin.I32Const(3), wasmbin.I32Const(1), wasmbin.I32Const(0), wasmbin.I32Const(0),
		wasmbin.Call(draw),
		wasmbin.I32Const(8), wasmbin.LocalGet(bundleID), wasmbin.Call(finish), wasmbin.I64Store(0),
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.Call(probe),
		wasmbin.LocalGet(2), wasmbin.LocalGet(3), wasmbin.Call(probe),
		wasmbin.LocalGet(4), wasmbin.LocalGet(5), wasmbin.Call(probe),
	))

	f := newFixture(t, nil)
	var args []string
	imports := BoundaryImports("", f.b).Func("probe", func(_ context.Context, _ api.Module, stack []uint64) {
		b, err := f.b.Arena.Read(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
		trap(err)
		args = append(args, string(b))
	}, types(i32, i32), nil)

	inst := f.instantiate(t, m.Encode(), imports)
	if err := inst.Start(f.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inst.RunEntry(f.ctx, "canvas", "wss://gw.example/session", "tok-1"); err != nil {
		t.Fatalf("RunEntry: %v", err)
	}

	if diff := cmp.Diff([]string{"canvas", "wss://gw.example/session", "tok-1"}, args); diff != "" {
		t.Errorf("entry arguments (-want +got):\n%s", diff)
	}
	if live := f.b.Arena.Stats().Live; live != 0 {
		t.Errorf("arena holds %d allocations after entry returned", live)
	}

	raw, _ := inst.Memory().Read(8, 8)
	h := bundle.DeviceHandle(binary.LittleEndian.Uint64(raw))
	b, err := f.dev.Bundle(h)
	if err != nil {
		t.Fatalf("device bundle %d: %v", h, err)
	}
	if b.Label() != "frame" {
		t.Errorf("label = %q", b.Label())
	}

	want := []bundle.Command{
		bundle.SetPipelineCommand{Pipeline: 7},
		bundle.SetVertexBufferCommand{Slot: 0, Buffer: 11, Offset: 0, Size: 64},
		bundle.DrawCommand{VertexCount: 3, InstanceCount: 1},
	}
	for replay := 0; replay < 2; replay++ {
		pass := &bundle.TracePass{}
		if err := f.dev.Execute(pass, h); err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if diff := cmp.Diff(want, pass.Commands()); diff != "" {
			t.Fatalf("replay %d (-want +got):\n%s", replay, diff)
		}
	}
}

func TestRunEntry_HostErrorTraps(t *testing.T) {
	m := wasmbin.New()
	handleFree := importGfx(m, ImportHandleFree)
	m.Memory(1, MemoryExport)
	m.ExportFunc(EntryExport, m.Func(entrySig, nil,
		wasmbin.I32Const(12345),
		wasmbin.Call(handleFree),
	))

	f := newFixture(t, nil)
	inst := f.instantiate(t, m.Encode(), nil)
	inst.Start(f.ctx)

	err := inst.RunEntry(f.ctx, "c", "", "")
	if !werrors.IsKind(err, werrors.KindTrap) {
		t.Fatalf("err = %v, want trap", err)
	}
	if !errors.Is(err, werrors.ErrInvalidHandle) {
		t.Errorf("trap cause = %v, want invalid_handle", err)
	}
	if live := f.b.Arena.Stats().Live; live != 0 {
		t.Errorf("entry strings leaked: %d live", live)
	}
}

func TestArenaImports_OutOfMemoryReturnsZero(t *testing.T) {
	m := wasmbin.New()
	alloc := importGfx(m, ImportArenaAlloc)
	m.Memory(1, MemoryExport)
	m.Data(0, []byte{0xff, 0xff, 0xff, 0xff})
	m.ExportFunc(EntryExport, m.Func(entrySig, nil,
		wasmbin.I32Const(0),
		wasmbin.I32Const(1<<20), wasmbin.I32Const(8), wasmbin.Call(alloc),
		wasmbin.I32Store(0),
		wasmbin.I32Const(4),
		wasmbin.I32Const(64), wasmbin.I32Const(8), wasmbin.Call(alloc),
		wasmbin.I32Store(0),
	))

	f := newFixture(t, &Config{MemoryLimitPages: 2})
	inst := f.instantiate(t, m.Encode(), nil)
	inst.Start(f.ctx)

	if err := inst.RunEntry(f.ctx, "", "", ""); err != nil {
		t.Fatalf("RunEntry: %v", err)
	}
	if got := readU32(t, inst.Memory(), 0); got != 0 {
		t.Errorf("oversized alloc = %#x, want 0", got)
	}
	if got := readU32(t, inst.Memory(), 4); got < 65536 {
		t.Errorf("alloc = %d, want an offset above the module's own page", got)
	}
}

// closureModule registers two closures from run_entry:
//   - tag 0 (i32, i32) stores its arguments at state, destroy stores meta at state+8
//   - tag 1 (externref) stores extern_len at state and copies the payload to state+16
func closureModule() []byte {
	m := wasmbin.New()
	register := importGfx(m, ImportClosureRegister)
	drop := importGfx(m, ImportClosureDrop)
	externLen := importGfx(m, ImportExternLen)
	externCopy := importGfx(m, ImportExternCopy)
	m.Memory(1, MemoryExport)

	m.ExportFunc("closure_invoke_0", m.Func(sig(p(i32, i32, i32, i32)), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(2), wasmbin.I32Store(0),
		wasmbin.LocalGet(0), wasmbin.LocalGet(3), wasmbin.I32Store(4),
	))
	m.ExportFunc("closure_destroy_0", m.Func(sig(p(i32, i32)), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.I32Store(8),
	))
	m.ExportFunc("closure_invoke_1", m.Func(sig(p(i32, i32, externref)), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(2), wasmbin.Call(externLen), wasmbin.I32Store(0),
		wasmbin.LocalGet(2), wasmbin.LocalGet(0), wasmbin.I32Const(16), wasmbin.I32Add(), wasmbin.Call(externCopy),
	))
	m.ExportFunc(EntryExport, m.Func(entrySig, nil,
		wasmbin.I32Const(32),
		wasmbin.I32Const(0), wasmbin.I32Const(64), wasmbin.I32Const(99), wasmbin.Call(register),
		wasmbin.I32Store(0),
		wasmbin.I32Const(36),
		wasmbin.I32Const(1), wasmbin.I32Const(128), wasmbin.I32Const(0), wasmbin.Call(register),
		wasmbin.I32Store(0),
	))
	m.ExportFunc("drop_slot", m.Func(sig(p(i32)), nil,
		wasmbin.LocalGet(0), wasmbin.Call(drop),
	))
	return m.Encode()
}

func TestGuestClosures(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.instantiate(t, closureModule(), nil)
	mem := inst.Memory()

	if diff := cmp.Diff([]callback.Tag{0, 1}, f.b.Bridge.Tags()); diff != "" {
		t.Fatalf("invoker tags (-want +got):\n%s", diff)
	}
	if s, _ := f.b.Bridge.Shape(1); s != callback.Sig(callback.KindExtern) {
		t.Errorf("tag 1 shape = %s", s)
	}

	inst.Start(f.ctx)
	if err := inst.RunEntry(f.ctx, "", "", ""); err != nil {
		t.Fatalf("RunEntry: %v", err)
	}
	pair := resource.Handle(readU32(t, mem, 32))
	ext := resource.Handle(readU32(t, mem, 36))

	for _, args := range [][2]int32{{1, 2}, {3, 4}} {
		if err := f.b.Bridge.Invoke(f.ctx, 0, pair, callback.I32(args[0]), callback.I32(args[1])); err != nil {
			t.Fatalf("Invoke%v: %v", args, err)
		}
		got := [2]int32{int32(readU32(t, mem, 64)), int32(readU32(t, mem, 68))}
		if got != args {
			t.Errorf("closure state = %v, want %v", got, args)
		}
	}

	if err := f.b.Bridge.Destroy(f.ctx, pair); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if got := readU32(t, mem, 72); got != 99 {
		t.Errorf("destroy saw meta %d, want 99", got)
	}
	if err := f.b.Bridge.Invoke(f.ctx, 0, pair, callback.I32(5), callback.I32(6)); !errors.Is(err, werrors.ErrInvalidHandle) {
		t.Errorf("Invoke after destroy err = %v, want invalid_handle", err)
	}

	payload, _ := f.b.Table.InsertTyped(resource.TypeExtern, []byte("hello"))
	if err := f.b.Bridge.Invoke(f.ctx, 1, ext, callback.Extern(payload)); err != nil {
		t.Fatalf("Invoke extern: %v", err)
	}
	if got := readU32(t, mem, 128); got != 5 {
		t.Errorf("extern_len = %d, want 5", got)
	}
	if b, _ := mem.Read(144, 5); string(b) != "hello" {
		t.Errorf("extern_copy wrote %q", b)
	}

	if _, err := inst.Call(f.ctx, "drop_slot", uint64(ext)); err != nil {
		t.Fatalf("drop_slot: %v", err)
	}
	if f.b.Bridge.Len() != 0 {
		t.Errorf("bridge still holds %d closures", f.b.Bridge.Len())
	}
	_, err := inst.Call(f.ctx, "drop_slot", uint64(ext))
	if !errors.Is(err, werrors.ErrInvalidHandle) {
		t.Errorf("second closure_drop err = %v, want invalid_handle", err)
	}
}

// handleModule registers one closure from run_entry and stores its slot at 0.
// Its destroyer writes 1 to the closure state at 64.
func handleModule() []byte {
	m := wasmbin.New()
	register := importGfx(m, ImportClosureRegister)
	drop := importGfx(m, ImportClosureDrop)
	free := importGfx(m, ImportHandleFree)
	clone := importGfx(m, ImportHandleClone)
	externDrop := importGfx(m, ImportExternDrop)
	m.Memory(1, MemoryExport)

	m.ExportFunc("closure_invoke_0", m.Func(sig(p(i32, i32)), nil))
	m.ExportFunc("closure_destroy_0", m.Func(sig(p(i32, i32)), nil,
		wasmbin.LocalGet(0), wasmbin.I32Const(1), wasmbin.I32Store(0),
	))
	m.ExportFunc(EntryExport, m.Func(entrySig, nil,
		wasmbin.I32Const(0),
		wasmbin.I32Const(0), wasmbin.I32Const(64), wasmbin.I32Const(0), wasmbin.Call(register),
		wasmbin.I32Store(0),
	))
	m.ExportFunc("free_slot", m.Func(sig(p(i32)), nil,
		wasmbin.LocalGet(0), wasmbin.Call(free),
	))
	m.ExportFunc("clone_slot", m.Func(sig(p(i32), i32), nil,
		wasmbin.LocalGet(0), wasmbin.Call(clone),
	))
	m.ExportFunc("drop_extern", m.Func(sig(p(externref)), nil,
		wasmbin.LocalGet(0), wasmbin.Call(externDrop),
	))
	m.ExportFunc("drop_slot", m.Func(sig(p(i32)), nil,
		wasmbin.LocalGet(0), wasmbin.Call(drop),
	))
	return m.Encode()
}

func TestClosureSlots_ReleasedOnlyByClosureDrop(t *testing.T) {
	f := newFixture(t, nil)
	inst := f.instantiate(t, handleModule(), nil)
	mem := inst.Memory()

	if err := inst.Start(f.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inst.RunEntry(f.ctx, "", "", ""); err != nil {
		t.Fatalf("RunEntry: %v", err)
	}
	slot := readU32(t, mem, 0)

	tests := []struct {
		export string
		param  uint64
	}{
		{"free_slot", uint64(slot)},
		{"clone_slot", uint64(slot)},
		{"drop_extern", api.EncodeExternref(uintptr(slot))},
	}
	for _, tt := range tests {
		t.Run(tt.export, func(t *testing.T) {
			_, err := inst.Call(f.ctx, tt.export, tt.param)
			if !werrors.IsKind(err, werrors.KindTypeMismatch) {
				t.Errorf("%s on a closure slot err = %v, want type_mismatch", tt.export, err)
			}
		})
	}

	if f.b.Bridge.Len() != 1 {
		t.Fatalf("bridge holds %d closures, want 1", f.b.Bridge.Len())
	}
	if got := readU32(t, mem, 64); got != 0 {
		t.Fatalf("closure destroyed early, state = %d", got)
	}

	if _, err := inst.Call(f.ctx, "drop_slot", uint64(slot)); err != nil {
		t.Fatalf("drop_slot: %v", err)
	}
	if got := readU32(t, mem, 64); got != 1 {
		t.Errorf("destroy state = %d, want 1", got)
	}
	if f.b.Bridge.Len() != 0 || f.b.Table.Len() != 0 {
		t.Errorf("after closure_drop bridge = %d, table = %d", f.b.Bridge.Len(), f.b.Table.Len())
	}
}

func TestInspect(t *testing.T) {
	f := newFixture(t, nil)
	info, err := f.engine.Inspect(f.ctx, closureModule())
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}

	if !info.Memory || info.ImportsMemory {
		t.Errorf("memory = %v, imports memory = %v", info.Memory, info.ImportsMemory)
	}
	var names []string
	for _, e := range info.Exports {
		names = append(names, e.Name)
	}
	want := []string{"closure_destroy_0", "closure_invoke_0", "closure_invoke_1", "drop_slot", "run_entry"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("exports (-want +got):\n%s", diff)
	}
	if len(info.Imports) != 4 || info.Imports[0].Name != ImportClosureRegister {
		t.Errorf("imports = %+v", info.Imports)
	}
	if got := info.Imports[0].Signature(); got != "(i32, i32, i32) -> (i32)" {
		t.Errorf("signature = %q", got)
	}
	if !info.Destroyers[0] || info.Destroyers[1] {
		t.Errorf("destroyers = %v", info.Destroyers)
	}
}
