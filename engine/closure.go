package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-gfx-bridge/callback"
)

// guestClosure is a closure whose state lives in module memory. Calls go
// through the module's closure_invoke_<tag> export; destroy goes through
// closure_destroy_<tag> when the module exports one.
type guestClosure struct {
	invoke  api.Function
	destroy api.Function
	sig     callback.Signature
	tag     callback.Tag
	state   uint32
	meta    uint32
}

var (
	_ callback.Closure = (*guestClosure)(nil)
	_ callback.Tagged  = (*guestClosure)(nil)
)

func newGuestClosure(mod api.Module, tag callback.Tag, sig callback.Signature, state, meta uint32) *guestClosure {
	return &guestClosure{
		invoke:  mod.ExportedFunction(invokeName(tag)),
		destroy: mod.ExportedFunction(destroyName(tag)),
		sig:     sig,
		tag:     tag,
		state:   state,
		meta:    meta,
	}
}

func (c *guestClosure) Signature() callback.Signature { return c.sig }
func (c *guestClosure) Tag() callback.Tag             { return c.tag }

func (c *guestClosure) Call(ctx context.Context, args []callback.Value) error {
	stack := make([]uint64, 2+len(args))
	stack[0] = api.EncodeU32(c.state)
	stack[1] = api.EncodeU32(c.meta)
	for i, a := range args {
		stack[2+i] = lower(a)
	}
	return c.invoke.CallWithStack(ctx, stack)
}

func (c *guestClosure) Destroy(ctx context.Context) error {
	if c.destroy == nil {
		return nil
	}
	_, err := c.destroy.Call(ctx, api.EncodeU32(c.state), api.EncodeU32(c.meta))
	return err
}

// lower converts a callback value to its core wasm stack representation.
func lower(v callback.Value) uint64 {
	switch v.Kind {
	case callback.KindI32:
		return api.EncodeI32(v.I32())
	case callback.KindExtern:
		return api.EncodeExternref(uintptr(v.Handle()))
	}
	return v.Bits
}

// kindOf maps a core value type to a callback argument kind.
func kindOf(t api.ValueType) (callback.Kind, bool) {
	switch t {
	case i32:
		return callback.KindI32, true
	case i64:
		return callback.KindI64, true
	case f32:
		return callback.KindF32, true
	case f64:
		return callback.KindF64, true
	case externref:
		return callback.KindExtern, true
	}
	return 0, false
}
