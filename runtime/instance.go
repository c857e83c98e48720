package runtime

import (
	"context"
	stderrors "errors"
	"sync"

	"go.uber.org/zap"

	gfxbridge "github.com/wippyai/wasm-gfx-bridge"
	"github.com/wippyai/wasm-gfx-bridge/arena"
	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

// Instance is a loaded module together with the boundary state it owns.
//
// Calls into the module (Start, RunEntry, Dispatch, Deliver, Call) are
// serialized. They must not be made from inside a host function or a
// closure the module is running.
type Instance struct {
	runtime   *Runtime
	wazero    *engine.WazeroInstance
	arena     *arena.Arena
	table     *resource.Table
	bridge    *callback.Bridge
	recorder  *bundle.Recorder
	subs      *subscriptions
	logger    *zap.Logger
	unobserve func()
	id        string
	closed    bool
	mu        sync.Mutex
}

// Stats is a snapshot of boundary resource usage.
type Stats struct {
	Arena         arena.Stats
	Handles       int
	Closures      int
	Bundles       int
	Subscriptions int
}

func (i *Instance) ID() string                 { return i.id }
func (i *Instance) Info() *engine.ModuleInfo   { return i.wazero.Info() }
func (i *Instance) Memory() gfxbridge.Memory   { return i.wazero.Memory() }
func (i *Instance) Arena() *arena.Arena        { return i.arena }
func (i *Instance) Table() *resource.Table     { return i.table }
func (i *Instance) Bridge() *callback.Bridge   { return i.bridge }
func (i *Instance) Recorder() *bundle.Recorder { return i.recorder }
func (i *Instance) Started() bool              { return i.wazero.Started() }

func (i *Instance) Stats() Stats {
	return Stats{
		Arena:         i.arena.Stats(),
		Handles:       i.table.Len(),
		Closures:      i.bridge.Len(),
		Bundles:       i.recorder.Len(),
		Subscriptions: i.subs.len(),
	}
}

// Subscribers returns the closure slots subscribed to kind in dispatch order.
func (i *Instance) Subscribers(kind EventKind) []resource.Handle {
	return i.subs.list(kind)
}

// Start runs the module initializer.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.wazero.Start(ctx)
}

// RunEntry calls the entry export with the three session strings.
func (i *Instance) RunEntry(ctx context.Context, canvasID, gatewayURL, handoffToken string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.runEntry(ctx, canvasID, gatewayURL, handoffToken)
}

// Run starts the module and calls its entry point.
func (i *Instance) Run(ctx context.Context, canvasID, gatewayURL, handoffToken string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.wazero.Start(ctx); err != nil {
		return err
	}
	return i.runEntry(ctx, canvasID, gatewayURL, handoffToken)
}

func (i *Instance) runEntry(ctx context.Context, canvasID, gatewayURL, handoffToken string) error {
	if err := i.wazero.RunEntry(ctx, canvasID, gatewayURL, handoffToken); err != nil {
		i.logger.Error("entry failed", zap.Error(err))
		return err
	}
	i.logger.Debug("entry returned",
		zap.Int("bundles", i.recorder.Len()),
		zap.Int("closures", i.bridge.Len()),
		zap.Int("subscriptions", i.subs.len()))
	return nil
}

// Call invokes an export with raw core values.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.wazero.Call(ctx, name, params...)
}

// Dispatch invokes every closure subscribed to ev.Kind in subscription
// order. Slots whose closure is gone are dropped from the list. A failing
// closure does not stop the others; all failures are returned joined.
func (i *Instance) Dispatch(ctx context.Context, ev Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return errors.InvalidState(errors.PhaseRuntime, "dispatch", "closed")
	}
	return i.dispatch(ctx, ev)
}

// Deliver wraps payload in an extern handle and dispatches it as a message
// event. The host's reference is dropped afterwards.
func (i *Instance) Deliver(ctx context.Context, payload []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return errors.InvalidState(errors.PhaseRuntime, "deliver", "closed")
	}
	h, err := i.table.InsertTyped(resource.TypeExtern, append([]byte(nil), payload...))
	if err != nil {
		return err
	}
	err = i.dispatch(ctx, EventMessage(h))
	return stderrors.Join(err, i.table.Free(h))
}

func (i *Instance) dispatch(ctx context.Context, ev Event) error {
	var errs []error
	delivered := 0
	for _, slot := range i.subs.list(ev.Kind) {
		tag, err := i.bridge.TagOf(slot)
		if err != nil {
			i.subs.remove(slot)
			continue
		}
		err = i.bridge.Invoke(ctx, tag, slot, ev.Args...)
		switch {
		case err == nil:
			delivered++
		case errors.IsKind(err, errors.KindInvalidHandle):
			i.subs.remove(slot)
		default:
			errs = append(errs, err)
		}
	}

	i.logger.Debug("event dispatched",
		zap.Stringer("kind", ev.Kind),
		zap.Int("delivered", delivered),
		zap.Int("failed", len(errs)))
	return stderrors.Join(errs...)
}

// subscribe backs the event_subscribe import. It runs on the module's
// call stack, so it must not take i.mu.
func (i *Instance) subscribe(kind uint32, slot resource.Handle) error {
	k := EventKind(kind)
	if err := checkSubscription(i.bridge, k, slot); err != nil {
		return err
	}
	i.subs.add(k, slot)
	i.logger.Debug("closure subscribed", zap.Stringer("kind", k), zap.Uint32("slot", uint32(slot)))
	return nil
}

func (i *Instance) onHandleEvent(e resource.Event) {
	if e.Type == resource.EventDropped && e.TypeID == resource.TypeClosure {
		i.subs.remove(e.Handle)
	}
	if ce := i.logger.Check(zap.DebugLevel, "handle "+e.Type.String()); ce != nil {
		ce.Write(
			zap.Uint32("handle", uint32(e.Handle)),
			zap.Uint32("type", uint32(e.TypeID)),
			zap.Uint32("refs", e.Refs))
	}
}

// Close destroys outstanding closures, releases finished bundles and tears
// down the module. Closing twice is a no-op.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true

	var errs []error
	errs = append(errs, i.bridge.Close(ctx))
	errs = append(errs, i.recorder.Close())
	i.unobserve()
	errs = append(errs, i.wazero.Close(ctx))
	errs = append(errs, i.table.Close())
	i.mu.Unlock()

	i.runtime.release(i)
	i.logger.Info("instance closed")
	return stderrors.Join(errs...)
}
