package runtime

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/config"
	"github.com/wippyai/wasm-gfx-bridge/engine"
	werrors "github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/internal/demo"
	"github.com/wippyai/wasm-gfx-bridge/internal/wasmbin"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

const i32 = api.ValueTypeI32

var (
	p        = wasmbin.Params
	sig      = wasmbin.Sig
	entrySig = sig(p(i32, i32, i32, i32, i32, i32))
	surface  = engine.BoundaryImports("", &engine.Boundary{})
)

func importGfx(m *wasmbin.Module, name string) uint32 {
	f, ok := surface.Lookup(name)
	if !ok {
		panic("unknown boundary import " + name)
	}
	return m.ImportFunc(engine.DefaultNamespace, name, sig(f.Params, f.Results...))
}

func newRuntime(t *testing.T, opts ...Option) (*Runtime, *bundle.MemoryDevice) {
	t.Helper()
	ctx := context.Background()
	dev := bundle.NewMemoryDevice()

	rt, err := New(ctx, nil, append([]Option{WithDevice(dev)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { rt.Close(ctx) })
	return rt, dev
}

func load(t *testing.T, rt *Runtime, bin []byte) *Instance {
	t.Helper()
	inst, err := rt.Load(context.Background(), bin)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return inst
}

func runDemo(t *testing.T, opts ...Option) (*Instance, *bundle.MemoryDevice) {
	t.Helper()
	rt, dev := newRuntime(t, opts...)
	inst := load(t, rt, demo.Module())
	if err := inst.Run(context.Background(), "main-canvas", "", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return inst, dev
}

func readU32(t *testing.T, inst *Instance, off uint32) uint32 {
	t.Helper()
	b, err := inst.Memory().Read(off, 4)
	if err != nil {
		t.Fatalf("Read(%d): %v", off, err)
	}
	return binary.LittleEndian.Uint32(b)
}

func readU64(t *testing.T, inst *Instance, off uint32) uint64 {
	t.Helper()
	b, err := inst.Memory().Read(off, 8)
	if err != nil {
		t.Fatalf("Read(%d): %v", off, err)
	}
	return binary.LittleEndian.Uint64(b)
}

func TestRun_RecordsFrame(t *testing.T) {
	inst, dev := runDemo(t)

	if got := readU32(t, inst, demo.Started); got != 1 {
		t.Errorf("__start flag = %d, want 1", got)
	}
	if got := readU32(t, inst, demo.CanvasLen); got != uint32(len("main-canvas")) {
		t.Errorf("canvas length = %d", got)
	}
	if got := readU32(t, inst, demo.Scratch); got == 0 {
		t.Error("__start got no scratch allocation")
	}

	h := bundle.DeviceHandle(readU64(t, inst, demo.FrameBundle))
	pass := &bundle.TracePass{}
	if err := dev.Execute(pass, h); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []bundle.Command{
		bundle.PushDebugGroupCommand{Label: "frame"},
		bundle.SetPipelineCommand{Pipeline: demo.Pipeline},
		bundle.SetVertexBufferCommand{Slot: 0, Buffer: demo.VertexBuffer},
		bundle.DrawCommand{VertexCount: 3, InstanceCount: 1},
		bundle.PopDebugGroupCommand{},
	}
	if diff := cmp.Diff(want, pass.Commands()); diff != "" {
		t.Errorf("frame replay mismatch (-want +got):\n%s", diff)
	}

	stats := inst.Stats()
	want2 := Stats{
		Arena:         stats.Arena,
		Handles:       3,
		Closures:      3,
		Bundles:       1,
		Subscriptions: 3,
	}
	if diff := cmp.Diff(want2, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	// entry strings are freed, the scratch buffer stays
	if stats.Arena.Live != 1 {
		t.Errorf("live allocations = %d, want 1", stats.Arena.Live)
	}
}

func TestRun_Twice(t *testing.T) {
	inst, _ := runDemo(t)
	err := inst.Run(context.Background(), "", "", "")
	if !errors.Is(err, werrors.ErrInvalidState) {
		t.Errorf("second Run err = %v, want invalid_state", err)
	}
}

func TestDispatch_Events(t *testing.T) {
	ctx := context.Background()
	inst, _ := runDemo(t)

	for _, ev := range []Event{EventResize(800, 600), EventResize(1024, 768)} {
		if err := inst.Dispatch(ctx, ev); err != nil {
			t.Fatalf("Dispatch(%s): %v", ev.Kind, err)
		}
	}
	if err := inst.Dispatch(ctx, EventInput(13)); err != nil {
		t.Fatalf("Dispatch(input): %v", err)
	}

	handles := inst.Table().Len()
	if err := inst.Deliver(ctx, []byte("hello gateway")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if inst.Table().Len() != handles {
		t.Errorf("Deliver leaked a handle: %d -> %d", handles, inst.Table().Len())
	}

	got := map[string]uint32{
		"resizes":  readU32(t, inst, demo.ResizeCount),
		"width":    readU32(t, inst, demo.Width),
		"height":   readU32(t, inst, demo.Height),
		"inputs":   readU32(t, inst, demo.InputCount),
		"code":     readU32(t, inst, demo.InputCode),
		"messages": readU32(t, inst, demo.MessageCount),
		"length":   readU32(t, inst, demo.MessageLen),
	}
	want := map[string]uint32{
		"resizes":  2,
		"width":    1024,
		"height":   768,
		"inputs":   1,
		"code":     13,
		"messages": 1,
		"length":   13,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("module state (-want +got):\n%s", diff)
	}
	if b, _ := inst.Memory().Read(demo.MessageBuf, 13); string(b) != "hello gateway" {
		t.Errorf("message copied as %q", b)
	}
}

func TestDispatch_PrunesDestroyedClosures(t *testing.T) {
	ctx := context.Background()
	inst, _ := runDemo(t)

	subs := inst.Subscribers(KindInput)
	if len(subs) != 1 || subs[0] != resource.Handle(readU32(t, inst, demo.InputSlot)) {
		t.Fatalf("input subscribers = %v", subs)
	}
	if err := inst.Bridge().Destroy(ctx, subs[0]); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if got := inst.Subscribers(KindInput); len(got) != 0 {
		t.Errorf("destroyed slot still subscribed: %v", got)
	}

	if err := inst.Dispatch(ctx, EventInput(5)); err != nil {
		t.Errorf("Dispatch with no subscribers: %v", err)
	}
	if got := readU32(t, inst, demo.InputCount); got != 0 {
		t.Errorf("destroyed closure ran %d times", got)
	}
	if got := len(inst.Subscribers(KindResize)); got != 1 {
		t.Errorf("resize subscribers = %d, want 1", got)
	}
}

const cursor = 100

// orderModule subscribes three input closures: two that append their meta
// word at a cursor and one in between that traps.
func orderModule() []byte {
	m := wasmbin.New()
	register := importGfx(m, engine.ImportClosureRegister)
	subscribe := importGfx(m, engine.ImportEventSubscribe)
	m.Memory(1, engine.MemoryExport)
	m.Data(cursor, binary.LittleEndian.AppendUint32(nil, cursor+4))

	m.ExportFunc("closure_invoke_0", m.Func(sig(p(i32, i32, i32)), nil,
		wasmbin.I32Const(cursor), wasmbin.I32Load(0), wasmbin.LocalGet(1), wasmbin.I32Store(0),
		wasmbin.I32Const(cursor),
		wasmbin.I32Const(cursor), wasmbin.I32Load(0), wasmbin.I32Const(4), wasmbin.I32Add(),
		wasmbin.I32Store(0),
	))
	m.ExportFunc("closure_invoke_1", m.Func(sig(p(i32, i32, i32)), nil, wasmbin.Unreachable()))

	sub := func(tag, meta int32) []byte {
		return wasmbin.Seq(
			wasmbin.I32Const(int32(KindInput)),
			wasmbin.I32Const(tag), wasmbin.I32Const(0), wasmbin.I32Const(meta), wasmbin.Call(register),
			wasmbin.Call(subscribe),
		)
	}
	m.ExportFunc(engine.EntryExport, m.Func(entrySig, nil, sub(0, 1), sub(1, 2), sub(0, 3)))
	m.ExportFunc("register", m.Func(sig(p(i32), i32), nil,
		wasmbin.LocalGet(0), wasmbin.I32Const(0), wasmbin.I32Const(0), wasmbin.Call(register),
	))
	m.ExportFunc("subscribe", m.Func(sig(p(i32, i32)), nil,
		wasmbin.LocalGet(0), wasmbin.LocalGet(1), wasmbin.Call(subscribe),
	))
	return m.Encode()
}

func TestDispatch_OrderAndFailures(t *testing.T) {
	ctx := context.Background()
	rt, _ := newRuntime(t)
	inst := load(t, rt, orderModule())
	if err := inst.Run(ctx, "", "", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for round := 1; round <= 2; round++ {
		err := inst.Dispatch(ctx, EventInput(7))
		if !errors.Is(err, werrors.ErrCallbackFailure) {
			t.Fatalf("round %d err = %v, want callback_failure", round, err)
		}
	}

	var got []uint32
	for off := uint32(cursor + 4); off < readU32(t, inst, cursor); off += 4 {
		got = append(got, readU32(t, inst, off))
	}
	if diff := cmp.Diff([]uint32{1, 3, 1, 3}, got); diff != "" {
		t.Errorf("invocation order (-want +got):\n%s", diff)
	}
	if n := len(inst.Subscribers(KindInput)); n != 3 {
		t.Errorf("failing closure should stay subscribed, have %d", n)
	}
}

func TestSubscribe_Errors(t *testing.T) {
	ctx := context.Background()
	rt, _ := newRuntime(t)
	inst := load(t, rt, orderModule())
	if err := inst.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := inst.Call(ctx, "register", 0)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	slot := res[0]

	tests := []struct {
		name string
		kind uint64
		slot uint64
		want werrors.Kind
	}{
		{"unknown kind", 99, slot, werrors.KindInvalidInput},
		{"wrong shape", uint64(KindResize), slot, werrors.KindTypeMismatch},
		{"unknown slot", uint64(KindInput), 999, werrors.KindInvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inst.Call(ctx, "subscribe", tt.kind, tt.slot)
			if !werrors.IsKind(err, werrors.KindTrap) || !werrors.IsKind(err, tt.want) {
				t.Errorf("err = %v, want trap caused by %s", err, tt.want)
			}
		})
	}

	for n := 0; n < 2; n++ {
		if _, err := inst.Call(ctx, "subscribe", uint64(KindInput), slot); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	if got := inst.Subscribers(KindInput); len(got) != 1 || got[0] != resource.Handle(slot) {
		t.Errorf("subscribers = %v, want [%d]", got, slot)
	}
}

func TestLoad_OneLiveInstance(t *testing.T) {
	ctx := context.Background()
	rt, dev := newRuntime(t)
	inst := load(t, rt, demo.Module())
	if err := inst.Run(ctx, "", "", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := rt.Load(ctx, demo.Module()); !errors.Is(err, werrors.ErrInvalidState) {
		t.Fatalf("second Load err = %v, want invalid_state", err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if len(dev.Handles()) != 0 {
		t.Errorf("device still holds %v", dev.Handles())
	}
	if err := inst.Dispatch(ctx, EventInput(1)); !errors.Is(err, werrors.ErrInvalidState) {
		t.Errorf("Dispatch after Close err = %v", err)
	}
	if err := inst.Deliver(ctx, nil); !errors.Is(err, werrors.ErrInvalidState) {
		t.Errorf("Deliver after Close err = %v", err)
	}
	if rt.Live() != nil {
		t.Error("runtime still reports a live instance")
	}

	again := load(t, rt, demo.Module())
	if err := again.Run(ctx, "", "", ""); err != nil {
		t.Fatalf("Run after reload: %v", err)
	}
}

func probeModule() []byte {
	m := wasmbin.New()
	probe := m.ImportFunc(engine.DefaultNamespace, "probe", sig(p(i32)))
	m.Memory(1, engine.MemoryExport)
	m.ExportFunc(engine.EntryExport, m.Func(entrySig, nil,
		wasmbin.I32Const(42), wasmbin.Call(probe),
	))
	return m.Encode()
}

func TestRegisterFunc(t *testing.T) {
	ctx := context.Background()
	noop := api.GoModuleFunc(func(context.Context, api.Module, []uint64) {})

	rt, _ := newRuntime(t)
	if _, err := rt.Load(ctx, probeModule()); !errors.Is(err, werrors.ErrLink) {
		t.Fatalf("Load without probe err = %v, want link_error", err)
	}

	if err := rt.RegisterFunc(engine.ImportArenaAlloc, noop, nil, nil); !werrors.IsKind(err, werrors.KindInvalidInput) {
		t.Errorf("shadowing arena_alloc err = %v", err)
	}
	if err := rt.RegisterFunc("", noop, nil, nil); err == nil {
		t.Error("empty name should be rejected")
	}

	var got []int32
	probe := api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
		got = append(got, api.DecodeI32(stack[0]))
	})
	if err := rt.RegisterFunc("probe", probe, []api.ValueType{i32}, nil); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}
	if diff := cmp.Diff([]string{"probe"}, rt.Hosts().Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}

	inst := load(t, rt, probeModule())
	if err := inst.Run(ctx, "", "", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int32{42}, got); diff != "" {
		t.Errorf("probe calls (-want +got):\n%s", diff)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "xml"
	if _, err := New(context.Background(), cfg); !werrors.IsKind(err, werrors.KindInvalidInput) {
		t.Errorf("New err = %v, want invalid_input", err)
	}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inst, _ := runDemo(t, WithLogger(zap.New(core)))

	if n := logs.FilterMessage("closure subscribed").Len(); n != 3 {
		t.Errorf("subscribe log entries = %d, want 3", n)
	}
	loaded := logs.FilterMessage("module loaded").All()
	if len(loaded) != 1 {
		t.Fatalf("module loaded entries = %d", len(loaded))
	}
	fields := loaded[0].ContextMap()
	if fields["instance"] != inst.ID() || fields["invokers"] != int64(3) {
		t.Errorf("load fields = %v", fields)
	}
	if logs.FilterMessage("handle created").Len() == 0 {
		t.Error("handle events are not logged")
	}
}
