package config

import (
	"context"
	"net/url"

	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/errors"
)

// MaxMemoryPages is the largest memory a 32-bit module can address.
const MaxMemoryPages = 1 << 16

// Config is the host configuration, read from GFXBRIDGE_* variables.
type Config struct {
	// Namespace is the import module name the host functions live in.
	Namespace string `env:"GFXBRIDGE_NAMESPACE, default=gfx"`

	Entry string `env:"GFXBRIDGE_ENTRY, default=run_entry"`
	Start string `env:"GFXBRIDGE_START, default=__start"`

	// MemoryLimitPages caps module memory in 64KiB pages.
	MemoryLimitPages uint32 `env:"GFXBRIDGE_MEMORY_LIMIT_PAGES, default=4096"`

	LogLevel  string `env:"GFXBRIDGE_LOG_LEVEL, default=info"`
	LogFormat string `env:"GFXBRIDGE_LOG_FORMAT, default=console"`

	// Entry arguments. Empty values reach the module as (0, 0).
	CanvasID     string `env:"GFXBRIDGE_CANVAS_ID"`
	GatewayURL   string `env:"GFXBRIDGE_GATEWAY_URL"`
	HandoffToken string `env:"GFXBRIDGE_HANDOFF_TOKEN"`
}

// Default returns the configuration with no variables set.
func Default() *Config {
	return &Config{
		Namespace:        engine.DefaultNamespace,
		Entry:            engine.EntryExport,
		Start:            engine.StartExport,
		MemoryLimitPages: 4096,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// Load reads the configuration from the process environment.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads the configuration through lookuper and validates it.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var c Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &c,
		Lookuper: lookuper,
	}); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "resolving environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks field values that envconfig cannot.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return errors.InvalidInput(errors.PhaseConfig, "namespace cannot be empty")
	}
	if c.Entry == "" {
		return errors.InvalidInput(errors.PhaseConfig, "entry export cannot be empty")
	}
	if c.MemoryLimitPages > MaxMemoryPages {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("GFXBRIDGE_MEMORY_LIMIT_PAGES").
			Value(c.MemoryLimitPages).
			Detail("memory limit exceeds %d pages", MaxMemoryPages).
			Build()
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("GFXBRIDGE_LOG_FORMAT").
			Value(c.LogFormat).
			Detail("log format must be console or json").
			Build()
	}
	if c.GatewayURL != "" {
		u, err := url.Parse(c.GatewayURL)
		if err != nil {
			return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "gateway url")
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Path("GFXBRIDGE_GATEWAY_URL").
				Value(c.GatewayURL).
				Detail("gateway url scheme must be ws or wss").
				Build()
		}
	}
	return nil
}

// EngineConfig returns the engine settings.
func (c *Config) EngineConfig() *engine.Config {
	return &engine.Config{
		MemoryLimitPages: c.MemoryLimitPages,
		StartExport:      c.Start,
		EntryExport:      c.Entry,
	}
}

// NewLogger builds a logger at LogLevel in LogFormat.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "log level")
	}

	zc := zap.NewDevelopmentConfig()
	if c.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.DisableStacktrace = level > zapcore.DebugLevel
	return zc.Build()
}
