package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	gfxbridge "github.com/wippyai/wasm-gfx-bridge"
	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// WazeroInstance is a linked module. No export other than the initializer
// is reachable until Start has run.
type WazeroInstance struct {
	engine   *WazeroEngine
	module   api.Module
	host     api.Module
	compiled wazero.CompiledModule
	memory   *WazeroMemory
	imports  *Imports
	info     *ModuleInfo
	startErr error
	state    startState
	closed   bool
	mu       sync.Mutex
}

type startState uint8

const (
	unstarted startState = iota
	starting
	started
	startFailed
)

var startStateNames = [...]string{
	unstarted:   "not started",
	starting:    "starting",
	started:     "started",
	startFailed: "start failed",
}

func (s startState) String() string { return startStateNames[s] }

// Info returns what was learned about the module at link time.
func (i *WazeroInstance) Info() *ModuleInfo { return i.info }

// Memory returns the module's exported memory.
func (i *WazeroInstance) Memory() gfxbridge.Memory { return i.memory }

// Imports returns the table the module was linked against.
func (i *WazeroInstance) Imports() *Imports { return i.imports }

// Started reports whether Start has completed successfully.
func (i *WazeroInstance) Started() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state == started
}

// Start runs the module initializer exactly once. Modules without one are
// started immediately. A second Start fails with invalid_state. When the
// initializer traps the instance stays unusable: every later export call
// fails with invalid_state carrying the trap.
func (i *WazeroInstance) Start(ctx context.Context) error {
	i.mu.Lock()
	if err := i.usable("start"); err != nil {
		i.mu.Unlock()
		return err
	}
	if i.state != unstarted {
		i.mu.Unlock()
		return errors.InvalidState(errors.PhaseRuntime, "start", i.state.String())
	}
	i.state = starting
	i.mu.Unlock()

	name := i.engine.cfg.startExport()
	var err error
	if fn := i.module.ExportedFunction(name); fn != nil {
		if _, cerr := fn.Call(ctx); cerr != nil {
			err = errors.Trap(name, cerr)
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.state, i.startErr = startFailed, err
		return err
	}
	i.state = started
	return nil
}

// RunEntry copies the three strings into the arena and calls the entry
// export with their (offset, length) pairs. The strings are freed after the
// call returns, so the module must copy anything it keeps.
func (i *WazeroInstance) RunEntry(ctx context.Context, canvasID, gatewayURL, handoffToken string) error {
	name := i.engine.cfg.entryExport()
	fn, err := i.export(name)
	if err != nil {
		return err
	}

	bnd := i.imports.Boundary()
	if bnd == nil || bnd.Arena == nil {
		return errors.InvalidState(errors.PhaseRuntime, name, "no arena")
	}

	var (
		params [6]uint64
		allocs []allocation
	)
	defer func() {
		for _, a := range allocs {
			if err := bnd.Arena.Free(a.offset, a.size, 1); err != nil {
				Logger().Warn("free entry argument", zap.Uint32("offset", a.offset), zap.Error(err))
			}
		}
	}()

	for n, s := range []string{canvasID, gatewayURL, handoffToken} {
		if s == "" {
			continue
		}
		off, err := bnd.Arena.Allocate(uint32(len(s)), 1)
		if err != nil {
			return err
		}
		allocs = append(allocs, allocation{offset: off, size: uint32(len(s))})
		if err := bnd.Arena.Write(off, []byte(s)); err != nil {
			return err
		}
		params[2*n] = api.EncodeU32(off)
		params[2*n+1] = api.EncodeU32(uint32(len(s)))
	}

	Logger().Debug("calling entry", zap.String("export", name), zap.String("canvas", canvasID))
	if _, err := fn.Call(ctx, params[:]...); err != nil {
		return errors.Trap(name, err)
	}
	return nil
}

type allocation struct {
	offset uint32
	size   uint32
}

// Call invokes any exported function with raw core values.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn, err := i.export(name)
	if err != nil {
		return nil, err
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.Trap(name, err)
	}
	return res, nil
}

func (i *WazeroInstance) export(name string) (api.Function, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.usable(name); err != nil {
		return nil, err
	}
	switch i.state {
	case started:
	case startFailed:
		return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidState).
			Path(name).
			Cause(i.startErr).
			Detail("%s not allowed in state %s", name, i.state).
			Build()
	default:
		return nil, errors.InvalidState(errors.PhaseRuntime, name, i.state.String())
	}
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	return fn, nil
}

func (i *WazeroInstance) usable(op string) error {
	if i.closed {
		return errors.InvalidState(errors.PhaseRuntime, op, "closed")
	}
	return nil
}

// Close tears down the module and its host functions.
func (i *WazeroInstance) Close(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	err := i.close(ctx)
	i.engine.release(i)
	return err
}

func (i *WazeroInstance) close(ctx context.Context) error {
	var firstErr error
	if err := i.module.Close(ctx); err != nil {
		firstErr = err
	}
	if err := i.host.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := i.compiled.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// WazeroMemory adapts wazero memory to gfxbridge.Memory. Reads are copied
// out of the live buffer.
type WazeroMemory struct {
	mem api.Memory
}

var _ gfxbridge.Memory = (*WazeroMemory)(nil)

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m *WazeroMemory) Grow(deltaPages uint32) (uint32, bool) {
	return m.mem.Grow(deltaPages)
}

func (m *WazeroMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseArena, offset, length, m.Size())
	}
	out := make([]byte, length)
	copy(out, data)
	return out, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseArena, offset, uint32(len(data)), m.Size())
	}
	return nil
}
