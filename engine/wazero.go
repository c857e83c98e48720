package engine

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// StartExport names the one-time initializer. Default "__start".
	StartExport string

	// EntryExport names the entry point. Default "run_entry".
	EntryExport string
}

func (c *Config) startExport() string {
	if c == nil || c.StartExport == "" {
		return StartExport
	}
	return c.StartExport
}

func (c *Config) entryExport() string {
	if c == nil || c.EntryExport == "" {
		return EntryExport
	}
	return c.EntryExport
}

// WazeroEngine compiles and links graphics modules on a wazero runtime.
// It hosts at most one live instance, since the host surface is registered
// under a single import namespace.
type WazeroEngine struct {
	runtime wazero.Runtime
	cfg     Config
	live    *WazeroInstance
	mu      sync.Mutex
}

// NewWazeroEngine creates an engine. cfg may be nil.
func NewWazeroEngine(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	e := &WazeroEngine{}
	if cfg != nil {
		e.cfg = *cfg
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
	}
	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.live = nil
	e.mu.Unlock()
	return e.runtime.Close(ctx)
}

// FuncInfo describes an imported or exported function.
type FuncInfo struct {
	Module  string // import module, empty for exports
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// Signature renders the function type, e.g. "(i32, i64) -> ()".
func (f FuncInfo) Signature() string {
	return formatTypes(f.Params) + " -> " + formatTypes(f.Results)
}

// ModuleInfo is what the engine learned about a compiled module.
type ModuleInfo struct {
	Invokers      map[callback.Tag]callback.Signature
	Destroyers    map[callback.Tag]bool
	Imports       []FuncInfo
	Exports       []FuncInfo // sorted by name
	Memory        bool       // exports "memory"
	ImportsMemory bool
}

// Export returns the exported function name, if present.
func (m *ModuleInfo) Export(name string) (FuncInfo, bool) {
	i, ok := slices.BinarySearchFunc(m.Exports, name, func(f FuncInfo, n string) int {
		return cmp.Compare(f.Name, n)
	})
	if !ok {
		return FuncInfo{}, false
	}
	return m.Exports[i], true
}

// Tags returns invoker tags in ascending order.
func (m *ModuleInfo) Tags() []callback.Tag {
	tags := make([]callback.Tag, 0, len(m.Invokers))
	for tag := range m.Invokers {
		tags = append(tags, tag)
	}
	slices.Sort(tags)
	return tags
}

// Inspect compiles binary and reports its imports, exports and closure
// invokers without linking it.
func (e *WazeroEngine) Inspect(ctx context.Context, binary []byte) (*ModuleInfo, error) {
	compiled, err := e.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Link("compile module", err)
	}
	defer compiled.Close(ctx)
	return inspect(compiled)
}

func inspect(compiled wazero.CompiledModule) (*ModuleInfo, error) {
	info := &ModuleInfo{
		Invokers:      make(map[callback.Tag]callback.Signature),
		Destroyers:    make(map[callback.Tag]bool),
		ImportsMemory: len(compiled.ImportedMemories()) > 0,
	}
	_, info.Memory = compiled.ExportedMemories()[MemoryExport]

	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		info.Imports = append(info.Imports, FuncInfo{
			Module:  module,
			Name:    name,
			Params:  def.ParamTypes(),
			Results: def.ResultTypes(),
		})
	}

	for name, def := range compiled.ExportedFunctions() {
		fi := FuncInfo{Name: name, Params: def.ParamTypes(), Results: def.ResultTypes()}
		info.Exports = append(info.Exports, fi)

		if tag, ok := parseInvoke(name); ok {
			sig, err := invokerShape(fi)
			if err != nil {
				return nil, err
			}
			info.Invokers[tag] = sig
		}
		if tag, ok := parseDestroy(name); ok {
			if !slices.Equal(fi.Params, types(i32, i32)) || len(fi.Results) != 0 {
				return nil, badExport(fi, "(i32, i32) -> ()")
			}
			info.Destroyers[tag] = true
		}
	}
	slices.SortFunc(info.Exports, func(a, b FuncInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})

	for tag := range info.Destroyers {
		if _, ok := info.Invokers[tag]; !ok {
			return nil, errors.New(errors.PhaseLink, errors.KindLink).
				Path(destroyName(tag)).
				Detail("destroy entry without %s", invokeName(tag)).
				Build()
		}
	}
	return info, nil
}

// invokerShape derives the closure signature of an invoker export:
// (state i32, meta i32, args...) -> () with at most two arguments.
func invokerShape(fi FuncInfo) (callback.Signature, error) {
	const want = "(i32, i32, arg{0,2}) -> ()"
	if len(fi.Params) < 2 || len(fi.Params) > 2+callback.MaxArity || len(fi.Results) != 0 {
		return callback.Signature{}, badExport(fi, want)
	}
	if fi.Params[0] != i32 || fi.Params[1] != i32 {
		return callback.Signature{}, badExport(fi, want)
	}

	kinds := make([]callback.Kind, 0, callback.MaxArity)
	for _, t := range fi.Params[2:] {
		k, ok := kindOf(t)
		if !ok {
			return callback.Signature{}, badExport(fi, want)
		}
		kinds = append(kinds, k)
	}
	return callback.Sig(kinds...), nil
}

func badExport(fi FuncInfo, want string) error {
	return errors.New(errors.PhaseLink, errors.KindLink).
		Path(fi.Name).
		Detail("export has type %s, want %s", fi.Signature(), want).
		Build()
}

// link checks the module's imports and exports against the table.
func (e *WazeroEngine) link(info *ModuleInfo, imports *Imports) error {
	var missing []string
	for _, imp := range info.Imports {
		hf, ok := imports.Lookup(imp.Name)
		if imp.Module != imports.Namespace() || !ok {
			missing = append(missing, importPath(imp.Module, imp.Name))
			continue
		}
		if !slices.Equal(hf.Params, imp.Params) || !slices.Equal(hf.Results, imp.Results) {
			return errors.New(errors.PhaseLink, errors.KindLink).
				Path(imp.Module, imp.Name).
				Detail("module expects %s, host provides %s -> %s",
					imp.Signature(), formatTypes(hf.Params), formatTypes(hf.Results)).
				Build()
		}
	}
	if len(missing) > 0 {
		return errors.Link("module imports functions the host does not provide",
			errors.NewMissingImportsError(missing))
	}

	if info.ImportsMemory {
		return errors.Link("module must define its own memory", nil)
	}
	if !info.Memory {
		return errors.Link("module does not export "+MemoryExport, nil)
	}

	if fi, ok := info.Export(e.cfg.startExport()); ok && (len(fi.Params) != 0 || len(fi.Results) != 0) {
		return badExport(fi, "() -> ()")
	}
	if fi, ok := info.Export(e.cfg.entryExport()); ok {
		if !slices.Equal(fi.Params, types(i32, i32, i32, i32, i32, i32)) || len(fi.Results) != 0 {
			return badExport(fi, "(i32, i32, i32, i32, i32, i32) -> ()")
		}
	}
	return nil
}

// Instantiate links binary against imports and instantiates it. Module
// start functions are not run; call Start on the returned instance.
func (e *WazeroEngine) Instantiate(ctx context.Context, binary []byte, imports *Imports) (*WazeroInstance, error) {
	if missing := imports.missingRequired(); len(missing) > 0 {
		return nil, errors.Link("import table is incomplete", errors.NewMissingImportsError(missing))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live != nil {
		return nil, errors.InvalidState(errors.PhaseLink, "instantiate", "instance live")
	}

	compiled, err := e.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Link("compile module", err)
	}
	info, err := inspect(compiled)
	if err == nil {
		err = e.link(info, imports)
	}
	if err != nil {
		compiled.Close(ctx)
		return nil, err
	}

	bnd := imports.Boundary()
	if bnd != nil && bnd.Bridge != nil {
		for _, tag := range info.Tags() {
			if err := bnd.Bridge.Define(tag, info.Invokers[tag]); err != nil {
				compiled.Close(ctx)
				return nil, errors.Link("closure invoker table", err)
			}
		}
	}

	host, err := e.instantiateHost(ctx, imports)
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.Link("register host functions", err)
	}

	mod, err := e.runtime.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		host.Close(ctx)
		compiled.Close(ctx)
		return nil, errors.Link("instantiate module", err)
	}

	inst := &WazeroInstance{
		engine:   e,
		module:   mod,
		host:     host,
		compiled: compiled,
		memory:   &WazeroMemory{mem: mod.ExportedMemory(MemoryExport)},
		imports:  imports,
		info:     info,
	}
	if bnd != nil && bnd.Arena != nil {
		if err := bnd.Arena.Bind(inst.memory); err != nil {
			inst.close(ctx)
			return nil, errors.Link("bind arena", err)
		}
	}
	e.live = inst

	Logger().Debug("module instantiated",
		zap.String("namespace", imports.Namespace()),
		zap.Int("imports", len(info.Imports)),
		zap.Int("invokers", len(info.Invokers)),
		zap.Uint32("memory_bytes", inst.memory.Size()))
	return inst, nil
}

// instantiateHost registers the import table as a host module, replacing a
// stale one left under the same name.
func (e *WazeroEngine) instantiateHost(ctx context.Context, imports *Imports) (api.Module, error) {
	if old := e.runtime.Module(imports.Namespace()); old != nil {
		old.Close(ctx)
	}

	builder := e.runtime.NewHostModuleBuilder(imports.Namespace())
	for _, name := range imports.Names() {
		f, _ := imports.Lookup(name)
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.Fn, f.Params, f.Results).
			Export(f.Name)
	}
	return builder.Instantiate(ctx)
}

func (e *WazeroEngine) release(inst *WazeroInstance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live == inst {
		e.live = nil
	}
}
