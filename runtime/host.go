package runtime

import (
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// reserved holds the names of the boundary surface. They cannot be
// replaced through the registry.
var reserved = engine.BoundaryImports(engine.DefaultNamespace, &engine.Boundary{}).Names()

// HostRegistry holds extra host functions linked into the boundary
// namespace next to the built-in surface, e.g. a logging or clock import
// a particular module declares.
type HostRegistry struct {
	funcs map[string]engine.HostFunc
	mu    sync.RWMutex
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]engine.HostFunc),
	}
}

// RegisterFunc adds fn under name. Registering a name twice replaces the
// earlier function.
func (r *HostRegistry) RegisterFunc(name string, fn api.GoModuleFunc, params, results []api.ValueType) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseRuntime, "function name cannot be empty")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseRuntime, "handler cannot be nil")
	}
	if _, ok := slices.BinarySearch(reserved, name); ok {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidInput).
			Path(name).
			Detail("%s is part of the boundary surface", name).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.funcs[name] = engine.HostFunc{
		Fn:      fn,
		Name:    name,
		Params:  params,
		Results: results,
	}
	return nil
}

// Names returns registered function names in sorted order.
func (r *HostRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// bind adds every registered function to im.
func (r *HostRegistry) bind(im *engine.Imports) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hf := range r.funcs {
		im.Func(hf.Name, hf.Fn, hf.Params, hf.Results)
	}
}
