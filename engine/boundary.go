package engine

import (
	"context"

	"github.com/gogpu/gputypes"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/arena"
	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

// Boundary is the host state a module is linked against.
type Boundary struct {
	Arena    *arena.Arena
	Table    *resource.Table
	Bridge   *callback.Bridge
	Recorder *bundle.Recorder

	// Subscribe attaches a closure slot to an event kind. When nil,
	// event_subscribe traps.
	Subscribe func(kind uint32, slot resource.Handle) error
}

// BoundaryImports builds the full host surface over b in namespace.
//
// Failing functions trap the calling module with the host error as the
// cause, except arena OutOfMemory, which returns offset 0 so the module
// can retry with a smaller request.
func BoundaryImports(namespace string, b *Boundary) *Imports {
	im := NewImports(namespace)
	im.boundary = b
	h := hostFuncs{b}

	im.Func(ImportArenaAlloc, h.arenaAlloc, types(i32, i32), types(i32))
	im.Func(ImportArenaRealloc, h.arenaRealloc, types(i32, i32, i32, i32), types(i32))
	im.Func(ImportArenaFree, h.arenaFree, types(i32, i32, i32), nil)

	im.Func(ImportHandleAlloc, h.handleAlloc, nil, types(i32))
	im.Func(ImportHandleFree, h.handleFree, types(i32), nil)
	im.Func(ImportHandleClone, h.handleClone, types(i32), types(i32))
	im.Func(ImportExternDrop, h.externDrop, types(externref), nil)
	im.Func(ImportExternLen, h.externLen, types(externref), types(i32))
	im.Func(ImportExternCopy, h.externCopy, types(externref, i32), nil)

	im.Func(ImportBundleCreate, h.bundleCreate, types(i32), types(i32))
	im.Func(ImportBundleSetPipeline, h.setPipeline, types(i32, i64), nil)
	im.Func(ImportBundleSetBindGroup, h.setBindGroup, types(i32, i32, i64, i32, i32), nil)
	im.Func(ImportBundleSetVertexBuffer, h.setVertexBuffer, types(i32, i32, i64, i64, i64), nil)
	im.Func(ImportBundleSetIndexBuffer, h.setIndexBuffer, types(i32, i64, i32, i64, i64), nil)
	im.Func(ImportBundleSetPushConstants, h.setPushConstants, types(i32, i32, i32, i32, i32), nil)
	im.Func(ImportBundleDraw, h.draw, types(i32, i32, i32, i32, i32), nil)
	im.Func(ImportBundleDrawIndexed, h.drawIndexed, types(i32, i32, i32, i32, i32, i32), nil)
	im.Func(ImportBundleDrawIndirect, h.drawIndirect, types(i32, i64, i64), nil)
	im.Func(ImportBundleDrawIndexedIndirect, h.drawIndexedIndirect, types(i32, i64, i64), nil)
	im.Func(ImportBundlePushDebugGroup, h.pushDebugGroup, types(i32, i32), nil)
	im.Func(ImportBundlePopDebugGroup, h.popDebugGroup, types(i32), nil)
	im.Func(ImportBundleInsertDebugMarker, h.insertDebugMarker, types(i32, i32), nil)
	im.Func(ImportBundleFinish, h.bundleFinish, types(i32), types(i64))
	im.Func(ImportBundleRelease, h.bundleRelease, types(i64), nil)

	im.Func(ImportClosureRegister, h.closureRegister, types(i32, i32, i32), types(i32))
	im.Func(ImportClosureDrop, h.closureDrop, types(i32), nil)
	im.Func(ImportEventSubscribe, h.eventSubscribe, types(i32, i32), nil)

	return im
}

// trap aborts the calling module. wazero recovers the panic and returns an
// error wrapping err from the outermost Call.
func trap(err error) {
	if err != nil {
		panic(err)
	}
}

type hostFuncs struct {
	b *Boundary
}

func u32(v uint64) uint32 { return api.DecodeU32(v) }

func encoder(v uint64) bundle.EncoderID { return bundle.EncoderID(api.DecodeU32(v)) }

func externHandle(v uint64) resource.Handle { return resource.Handle(api.DecodeExternref(v)) }

// allocResult turns an arena result into the value returned to the module.
func allocResult(op string, off uint32, err error) uint64 {
	if errors.IsKind(err, errors.KindOutOfMemory) {
		Logger().Debug("arena exhausted", zap.String("op", op), zap.Error(err))
		return 0
	}
	trap(err)
	return api.EncodeU32(off)
}

func (h hostFuncs) arenaAlloc(_ context.Context, _ api.Module, stack []uint64) {
	off, err := h.b.Arena.Allocate(u32(stack[0]), u32(stack[1]))
	stack[0] = allocResult(ImportArenaAlloc, off, err)
}

func (h hostFuncs) arenaRealloc(_ context.Context, _ api.Module, stack []uint64) {
	off, err := h.b.Arena.Reallocate(u32(stack[0]), u32(stack[1]), u32(stack[2]), u32(stack[3]))
	stack[0] = allocResult(ImportArenaRealloc, off, err)
}

func (h hostFuncs) arenaFree(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Arena.Free(u32(stack[0]), u32(stack[1]), u32(stack[2])))
}

func (h hostFuncs) handleAlloc(_ context.Context, _ api.Module, stack []uint64) {
	handle, err := h.b.Table.Alloc()
	trap(err)
	stack[0] = api.EncodeU32(uint32(handle))
}

func (h hostFuncs) handleFree(_ context.Context, _ api.Module, stack []uint64) {
	handle := resource.Handle(u32(stack[0]))
	trap(notClosure(h.b.Table, ImportHandleFree, handle))
	trap(h.b.Table.Free(handle))
}

// handleClone shares the slot: the handle gains a reference and each
// handle_free drops one.
func (h hostFuncs) handleClone(_ context.Context, _ api.Module, stack []uint64) {
	handle := resource.Handle(u32(stack[0]))
	trap(notClosure(h.b.Table, ImportHandleClone, handle))
	trap(h.b.Table.Retain(handle))
	stack[0] = api.EncodeU32(uint32(handle))
}

func (h hostFuncs) externDrop(_ context.Context, _ api.Module, stack []uint64) {
	handle := externHandle(stack[0])
	trap(notClosure(h.b.Table, ImportExternDrop, handle))
	trap(h.b.Table.Free(handle))
}

// notClosure rejects closure slots. Those belong to the bridge and are
// released only by closure_drop, which runs the closure's destroy.
func notClosure(table *resource.Table, op string, handle resource.Handle) error {
	if _, err := table.GetTyped(handle, resource.TypeClosure); err != nil {
		return nil
	}
	return errors.New(errors.PhaseHandle, errors.KindTypeMismatch).
		Path(op).
		Value(handle).
		Detail("handle %d is a closure slot, release it with %s", handle, ImportClosureDrop).
		Build()
}

func (h hostFuncs) externLen(_ context.Context, _ api.Module, stack []uint64) {
	data, err := h.payload(externHandle(stack[0]))
	trap(err)
	stack[0] = api.EncodeU32(uint32(len(data)))
}

func (h hostFuncs) externCopy(_ context.Context, _ api.Module, stack []uint64) {
	data, err := h.payload(externHandle(stack[0]))
	trap(err)
	trap(h.b.Arena.Write(u32(stack[1]), data))
}

func (h hostFuncs) payload(handle resource.Handle) ([]byte, error) {
	v, err := h.b.Table.GetTyped(handle, resource.TypeExtern)
	if err != nil {
		return nil, err
	}
	switch p := v.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	}
	return nil, errors.TypeMismatch(errors.PhaseHandle, "extern value has no byte payload")
}

func (h hostFuncs) bundleCreate(_ context.Context, _ api.Module, stack []uint64) {
	label, err := h.b.Recorder.Label(u32(stack[0]))
	trap(err)
	id := h.b.Recorder.Create(bundle.Descriptor{Label: label})
	stack[0] = api.EncodeU32(uint32(id))
}

func (h hostFuncs) setPipeline(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.SetPipeline(encoder(stack[0]), bundle.ResourceID(stack[1])))
}

func (h hostFuncs) setBindGroup(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.SetBindGroup(encoder(stack[0]), u32(stack[1]), bundle.ResourceID(stack[2]),
		u32(stack[3]), u32(stack[4])))
}

func (h hostFuncs) setVertexBuffer(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.SetVertexBuffer(encoder(stack[0]), u32(stack[1]), bundle.ResourceID(stack[2]),
		stack[3], stack[4]))
}

func (h hostFuncs) setIndexBuffer(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.SetIndexBuffer(encoder(stack[0]), bundle.ResourceID(stack[1]),
		gputypes.IndexFormat(u32(stack[2])), stack[3], stack[4]))
}

func (h hostFuncs) setPushConstants(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.SetPushConstants(encoder(stack[0]), gputypes.ShaderStages(u32(stack[1])),
		u32(stack[2]), u32(stack[3]), u32(stack[4])))
}

func (h hostFuncs) draw(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.Draw(encoder(stack[0]), u32(stack[1]), u32(stack[2]), u32(stack[3]), u32(stack[4])))
}

func (h hostFuncs) drawIndexed(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.DrawIndexed(encoder(stack[0]), u32(stack[1]), u32(stack[2]), u32(stack[3]),
		api.DecodeI32(stack[4]), u32(stack[5])))
}

func (h hostFuncs) drawIndirect(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.DrawIndirect(encoder(stack[0]), bundle.ResourceID(stack[1]), stack[2]))
}

func (h hostFuncs) drawIndexedIndirect(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.DrawIndexedIndirect(encoder(stack[0]), bundle.ResourceID(stack[1]), stack[2]))
}

func (h hostFuncs) pushDebugGroup(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.PushDebugGroup(encoder(stack[0]), u32(stack[1])))
}

func (h hostFuncs) popDebugGroup(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.PopDebugGroup(encoder(stack[0])))
}

func (h hostFuncs) insertDebugMarker(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.InsertDebugMarker(encoder(stack[0]), u32(stack[1])))
}

func (h hostFuncs) bundleFinish(_ context.Context, _ api.Module, stack []uint64) {
	handle, err := h.b.Recorder.Finalize(encoder(stack[0]))
	trap(err)
	stack[0] = uint64(handle)
}

func (h hostFuncs) bundleRelease(_ context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Recorder.Release(bundle.DeviceHandle(stack[0])))
}

// closureRegister wraps the module's (state, meta) pair in a closure bound
// to the calling instance's invoker for tag.
func (h hostFuncs) closureRegister(_ context.Context, mod api.Module, stack []uint64) {
	tag := callback.Tag(u32(stack[0]))
	sig, ok := h.b.Bridge.Shape(tag)
	if !ok {
		trap(errors.New(errors.PhaseCallback, errors.KindInvalidInput).
			Value(tag).
			Detail("module has no invoker %d", tag).
			Build())
	}

	c := newGuestClosure(mod, tag, sig, u32(stack[1]), u32(stack[2]))
	slot, _, err := h.b.Bridge.Register(c)
	trap(err)
	stack[0] = api.EncodeU32(uint32(slot))
}

func (h hostFuncs) closureDrop(ctx context.Context, _ api.Module, stack []uint64) {
	trap(h.b.Bridge.Destroy(ctx, resource.Handle(u32(stack[0]))))
}

func (h hostFuncs) eventSubscribe(_ context.Context, _ api.Module, stack []uint64) {
	if h.b.Subscribe == nil {
		trap(errors.InvalidState(errors.PhaseCallback, ImportEventSubscribe, "no event source"))
	}
	trap(h.b.Subscribe(u32(stack[0]), resource.Handle(u32(stack[1]))))
}
