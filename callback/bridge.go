package callback

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

type entry struct {
	closure   Closure
	bridge    *Bridge
	tag       Tag
	active    int
	destroyed bool
	released  bool
}

var _ resource.Dropper = (*entry)(nil)

// Drop runs when the slot's last table reference goes away without Destroy,
// for example a direct Table.Free or Table.Close. The closure is released
// then, still exactly once.
func (e *entry) Drop() {
	if !e.bridge.markReleased(e) {
		return
	}
	if err := destroy(context.Background(), e.closure); err != nil {
		Logger().Warn("release dropped closure", zap.Uint32("tag", uint32(e.tag)), zap.Error(err))
	}
}

// Bridge owns registered closures. Each closure lives in a handle table slot;
// the slot number is what the module stores and what events carry.
type Bridge struct {
	table  *resource.Table
	shapes map[Tag]Signature
	tags   []Tag // sorted
	live   int
	mu     sync.Mutex
}

// NewBridge creates a bridge that stores closures in table.
func NewBridge(table *resource.Table) *Bridge {
	return &Bridge{
		table:  table,
		shapes: make(map[Tag]Signature),
	}
}

// Define adds an invoker to the finite invoker table.
// Redefining a tag with the same shape is a no-op.
func (b *Bridge) Define(tag Tag, sig Signature) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.shapes[tag]; ok {
		if old != sig {
			return errors.New(errors.PhaseCallback, errors.KindTypeMismatch).
				Value(tag).
				Detail("invoker %d already defined as %s, got %s", tag, old, sig).
				Build()
		}
		return nil
	}
	b.shapes[tag] = sig
	i, _ := slices.BinarySearch(b.tags, tag)
	b.tags = slices.Insert(b.tags, i, tag)
	return nil
}

// Shape returns the signature of an invoker.
func (b *Bridge) Shape(tag Tag) (Signature, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sig, ok := b.shapes[tag]
	return sig, ok
}

// Tags returns the defined invokers in ascending order.
func (b *Bridge) Tags() []Tag {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.tags)
}

// Register stores c and returns its slot and invoker tag. Tagged closures
// keep their own tag; others get the lowest tag whose shape matches.
func (b *Bridge) Register(c Closure) (resource.Handle, Tag, error) {
	sig := c.Signature()

	b.mu.Lock()
	defer b.mu.Unlock()

	tag, err := b.resolveTag(c, sig)
	if err != nil {
		return 0, 0, err
	}

	slot, err := b.table.InsertTyped(resource.TypeClosure, &entry{closure: c, bridge: b, tag: tag})
	if err != nil {
		return 0, 0, err
	}
	b.live++
	return slot, tag, nil
}

func (b *Bridge) resolveTag(c Closure, sig Signature) (Tag, error) {
	if t, ok := c.(Tagged); ok {
		tag := t.Tag()
		shape, defined := b.shapes[tag]
		if !defined {
			return 0, errors.New(errors.PhaseCallback, errors.KindInvalidInput).
				Value(tag).
				Detail("invoker %d is not defined", tag).
				Build()
		}
		if shape != sig {
			return 0, errors.TypeMismatch(errors.PhaseCallback,
				fmt.Sprintf("closure %s does not fit invoker %d %s", sig, tag, shape))
		}
		return tag, nil
	}

	for _, tag := range b.tags {
		if b.shapes[tag] == sig {
			return tag, nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseCallback, "no invoker for closure shape "+sig.String())
}

// Invoke calls the closure in slot through invoker tag.
// Errors and panics raised by the closure come back as callback_failure;
// the bridge and other closures stay usable.
func (b *Bridge) Invoke(ctx context.Context, tag Tag, slot resource.Handle, args ...Value) error {
	b.mu.Lock()
	e, err := b.lookup(slot)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if e.tag != tag {
		b.mu.Unlock()
		return errors.TypeMismatch(errors.PhaseCallback,
			fmt.Sprintf("slot %d belongs to invoker %d, not %d", slot, e.tag, tag))
	}
	if sig := e.closure.Signature(); !sig.Accepts(args) {
		b.mu.Unlock()
		return errors.TypeMismatch(errors.PhaseCallback,
			fmt.Sprintf("arguments %s do not match %s", describe(args), sig))
	}
	e.active++
	b.mu.Unlock()

	callErr := call(ctx, e.closure, args)

	b.mu.Lock()
	e.active--
	finish := e.destroyed && e.active == 0
	b.mu.Unlock()

	var releaseErr error
	if finish {
		releaseErr = b.release(ctx, slot, e)
	}
	if callErr != nil {
		callErr = errors.CallbackFailure(uint32(slot), callErr)
	}
	return stderrors.Join(callErr, releaseErr)
}

// Destroy releases the closure in slot. A second destroy of the same slot
// fails with invalid_handle. Destroying a closure that is being invoked
// takes effect when the invocation returns.
func (b *Bridge) Destroy(ctx context.Context, slot resource.Handle) error {
	b.mu.Lock()
	e, err := b.lookup(slot)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	e.destroyed = true
	deferred := e.active > 0
	b.mu.Unlock()

	if deferred {
		return nil
	}
	return b.release(ctx, slot, e)
}

// TagOf returns the invoker tag of a live closure.
func (b *Bridge) TagOf(slot resource.Handle) (Tag, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(slot)
	if err != nil {
		return 0, err
	}
	return e.tag, nil
}

// SignatureOf returns the signature of a live closure.
func (b *Bridge) SignatureOf(slot resource.Handle) (Signature, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := b.lookup(slot)
	if err != nil {
		return Signature{}, err
	}
	return e.closure.Signature(), nil
}

// Len returns the number of closures not yet released.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Close destroys every live closure in slot order.
func (b *Bridge) Close(ctx context.Context) error {
	var slots []resource.Handle
	b.table.Each(func(h resource.Handle, v any) bool {
		if _, ok := v.(*entry); ok {
			slots = append(slots, h)
		}
		return true
	})

	var errs []error
	for _, slot := range slots {
		if err := b.Destroy(ctx, slot); err != nil && !errors.IsKind(err, errors.KindInvalidHandle) {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (b *Bridge) lookup(slot resource.Handle) (*entry, error) {
	v, err := b.table.GetTyped(slot, resource.TypeClosure)
	if err != nil {
		return nil, errors.InvalidHandle(errors.PhaseCallback, "closure slot", uint64(slot))
	}
	e := v.(*entry)
	if e.destroyed {
		return nil, errors.InvalidHandle(errors.PhaseCallback, "closure slot", uint64(slot))
	}
	return e, nil
}

// markReleased flips e to released and reports whether this call did it.
func (b *Bridge) markReleased(e *entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.released {
		return false
	}
	e.released, e.destroyed = true, true
	b.live--
	return true
}

func (b *Bridge) release(ctx context.Context, slot resource.Handle, e *entry) error {
	if !b.markReleased(e) {
		return nil
	}
	err := destroy(ctx, e.closure)

	if ferr := b.table.Free(slot); ferr != nil {
		return stderrors.Join(err, ferr)
	}
	if err != nil {
		return errors.CallbackFailure(uint32(slot), err)
	}
	return nil
}

func call(ctx context.Context, c Closure, args []Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return c.Call(ctx, args)
}

func destroy(ctx context.Context, c Closure) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return c.Destroy(ctx)
}

func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func describe(args []Value) string {
	kinds := make([]Kind, len(args))
	for i, a := range args {
		kinds[i] = a.Kind
	}
	if len(kinds) > MaxArity {
		return fmt.Sprintf("(%d values)", len(kinds))
	}
	return Sig(kinds...).String()
}
