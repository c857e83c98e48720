package callback

import (
	"context"
	"sync"

	"github.com/wippyai/wasm-gfx-bridge/resource"
)

// Closure is a callable registered with a Bridge.
type Closure interface {
	Signature() Signature
	Call(ctx context.Context, args []Value) error
	// Destroy releases captured state. The bridge calls it exactly once.
	Destroy(ctx context.Context) error
}

// Tagged is implemented by closures that belong to a specific invoker,
// such as closures created by a module.
type Tagged interface {
	Tag() Tag
}

// Arg is the set of Go types a typed closure may take.
type Arg interface {
	int32 | int64 | float32 | float64 | resource.Handle
}

// HostClosure is a closure implemented in Go.
type HostClosure struct {
	call      func(ctx context.Context, args []Value) error
	onRelease func()
	once      sync.Once
	sig       Signature
}

// Func0 wraps a function that takes no arguments.
func Func0(fn func(ctx context.Context) error) *HostClosure {
	return &HostClosure{
		sig: Sig(),
		call: func(ctx context.Context, _ []Value) error {
			return fn(ctx)
		},
	}
}

// Func1 wraps a one-argument function. The signature follows from A.
func Func1[A Arg](fn func(ctx context.Context, a A) error) *HostClosure {
	return &HostClosure{
		sig: Sig(kindOf[A]()),
		call: func(ctx context.Context, args []Value) error {
			return fn(ctx, decode[A](args[0]))
		},
	}
}

// Func2 wraps a two-argument function. The signature follows from A and B.
func Func2[A, B Arg](fn func(ctx context.Context, a A, b B) error) *HostClosure {
	return &HostClosure{
		sig: Sig(kindOf[A](), kindOf[B]()),
		call: func(ctx context.Context, args []Value) error {
			return fn(ctx, decode[A](args[0]), decode[B](args[1]))
		},
	}
}

// OnRelease sets a function run when the closure is destroyed.
func (c *HostClosure) OnRelease(fn func()) *HostClosure {
	c.onRelease = fn
	return c
}

func (c *HostClosure) Signature() Signature { return c.sig }

func (c *HostClosure) Call(ctx context.Context, args []Value) error {
	return c.call(ctx, args)
}

func (c *HostClosure) Destroy(context.Context) error {
	c.once.Do(func() {
		if c.onRelease != nil {
			c.onRelease()
		}
	})
	return nil
}

func kindOf[A Arg]() Kind {
	var zero A
	switch any(zero).(type) {
	case int32:
		return KindI32
	case int64:
		return KindI64
	case float32:
		return KindF32
	case float64:
		return KindF64
	case resource.Handle:
		return KindExtern
	}
	panic("unreachable")
}

func decode[A Arg](v Value) A {
	var out A
	switch p := any(&out).(type) {
	case *int32:
		*p = v.I32()
	case *int64:
		*p = v.I64()
	case *float32:
		*p = v.F32()
	case *float64:
		*p = v.F64()
	case *resource.Handle:
		*p = v.Handle()
	}
	return out
}
