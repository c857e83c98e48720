package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/arena"
	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/config"
	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/errors"
	"github.com/wippyai/wasm-gfx-bridge/resource"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithDevice sets the device finished bundles are compiled on.
// The default is a fresh bundle.MemoryDevice.
func WithDevice(d bundle.Device) Option {
	return func(r *Runtime) { r.device = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

type Runtime struct {
	engine *engine.WazeroEngine
	cfg    *config.Config
	device bundle.Device
	hosts  *HostRegistry
	logger *zap.Logger
	live   *Instance
	id     string
	mu     sync.Mutex
}

// New creates a runtime. A nil cfg means config.Default().
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng, err := engine.NewWazeroEngine(ctx, cfg.EngineConfig())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidState, err, "create engine")
	}

	r := &Runtime{
		engine: eng,
		cfg:    cfg,
		hosts:  NewHostRegistry(),
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.device == nil {
		r.device = bundle.NewMemoryDevice()
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.With(zap.String("runtime", r.id))
	return r, nil
}

// ID identifies the runtime in log output.
func (r *Runtime) ID() string { return r.id }

// Config returns the configuration the runtime was created with.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Device returns the device bundles are compiled on.
func (r *Runtime) Device() bundle.Device { return r.device }

// RegisterFunc adds an extra host function to the boundary namespace.
// Must be called before Load for the module to see it.
func (r *Runtime) RegisterFunc(name string, fn api.GoModuleFunc, params, results []api.ValueType) error {
	return r.hosts.RegisterFunc(name, fn, params, results)
}

func (r *Runtime) Hosts() *HostRegistry {
	return r.hosts
}

// Inspect reports a module's imports, exports and closure invokers without
// instantiating it.
func (r *Runtime) Inspect(ctx context.Context, binary []byte) (*engine.ModuleInfo, error) {
	return r.engine.Inspect(ctx, binary)
}

// Load instantiates binary against a fresh boundary: an arena over the
// module's memory, a handle table, a callback bridge and a recorder on the
// runtime's device. Only one instance may be live at a time.
func (r *Runtime) Load(ctx context.Context, binary []byte) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.live != nil {
		return nil, errors.InvalidState(errors.PhaseRuntime, "load", "instance live")
	}

	a := arena.New(arena.NewSliceMemory(0, 0))
	table := resource.NewTable()
	inst := &Instance{
		runtime:  r,
		id:       uuid.NewString(),
		arena:    a,
		table:    table,
		bridge:   callback.NewBridge(table),
		recorder: bundle.NewRecorder(a, r.device),
		subs:     newSubscriptions(),
	}
	inst.logger = r.logger.With(zap.String("instance", inst.id))
	inst.unobserve = table.Subscribe(resource.ObserverFunc(inst.onHandleEvent))

	imports := engine.BoundaryImports(r.cfg.Namespace, &engine.Boundary{
		Arena:     a,
		Table:     table,
		Bridge:    inst.bridge,
		Recorder:  inst.recorder,
		Subscribe: inst.subscribe,
	})
	r.hosts.bind(imports)

	wi, err := r.engine.Instantiate(ctx, binary, imports)
	if err != nil {
		inst.unobserve()
		table.Close()
		return nil, err
	}
	inst.wazero = wi
	r.live = inst

	inst.logger.Info("module loaded",
		zap.Int("imports", len(wi.Info().Imports)),
		zap.Int("exports", len(wi.Info().Exports)),
		zap.Int("invokers", len(wi.Info().Invokers)))
	return inst, nil
}

// Live returns the loaded instance, or nil.
func (r *Runtime) Live() *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

func (r *Runtime) release(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == inst {
		r.live = nil
	}
}

// Close closes the live instance, if any, and the engine.
func (r *Runtime) Close(ctx context.Context) error {
	if inst := r.Live(); inst != nil {
		if err := inst.Close(ctx); err != nil {
			r.logger.Warn("close instance", zap.Error(err))
		}
	}
	return r.engine.Close(ctx)
}
