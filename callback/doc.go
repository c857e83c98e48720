// Package callback lets a module register closures the host invokes later.
//
// A module exports a fixed set of invokers, one per closure shape. Each
// closure it registers is stored in the handle table and named by its slot;
// the host calls it back through the invoker matching its tag:
//
//	bridge := callback.NewBridge(table)
//	bridge.Define(0, callback.Sig(callback.KindI32, callback.KindI32))
//
//	onResize := callback.Func2(func(ctx context.Context, w, h int32) error {
//	    return surface.Resize(w, h)
//	})
//	slot, tag, _ := bridge.Register(onResize)
//
//	_ = bridge.Invoke(ctx, tag, slot, callback.I32(800), callback.I32(600))
//	_ = bridge.Destroy(ctx, slot)
//
// Closures take at most two arguments of kind i32, i64, f32, f64 or
// externref and return nothing. A failing closure is reported as a
// callback_failure error to whoever invoked it.
package callback
