package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-gfx-bridge/callback"
	"github.com/wippyai/wasm-gfx-bridge/config"
	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/gateway"
	"github.com/wippyai/wasm-gfx-bridge/internal/demo"
	"github.com/wippyai/wasm-gfx-bridge/runtime"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gfxbridge",
		Short:         "Run wasm graphics modules against a recording device",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDemoCmd(), newInspectCmd())
	return root
}

// runOptions override the GFXBRIDGE_* environment.
type runOptions struct {
	canvas      string
	gateway     string
	token       string
	interactive bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.canvas, "canvas", "", "canvas id passed to the entry point")
	f.StringVar(&o.gateway, "gateway", "", "session gateway url (ws or wss)")
	f.StringVar(&o.token, "token", "", "handoff token for the gateway")
	f.BoolVarP(&o.interactive, "interactive", "i", false, "interactive mode with TUI")
}

func (o *runOptions) config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return nil, err
	}
	f := cmd.Flags()
	if f.Changed("canvas") {
		cfg.CanvasID = o.canvas
	}
	if f.Changed("gateway") {
		cfg.GatewayURL = o.gateway
	}
	if f.Changed("token") {
		cfg.HandoffToken = o.token
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *runOptions) run(cmd *cobra.Command, name string, binary []byte) error {
	cfg, err := o.config(cmd)
	if err != nil {
		return err
	}
	// the TUI owns the terminal, so interactive sessions log nowhere
	logger := zap.NewNop()
	if !o.interactive {
		if logger, err = cfg.NewLogger(); err != nil {
			return err
		}
		defer logger.Sync()
	}
	engine.SetLogger(logger)
	callback.SetLogger(logger)
	gateway.SetLogger(logger)

	if o.interactive {
		return runInteractive(cmd.Context(), cfg, name, binary)
	}
	return runBatch(cmd.Context(), cmd.OutOrStdout(), cfg, logger, name, binary)
}

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <module.wasm>",
		Short: "Start a module, call its entry point and replay its bundles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read module: %w", err)
			}
			return opts.run(cmd, filepath.Base(args[0]), binary)
		},
	}
	opts.bind(cmd)
	return cmd
}

func newDemoCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the built-in demo module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd, "demo", demo.Module())
		},
	}
	opts.bind(cmd)
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <module.wasm>",
		Short: "List a module's imports, exports and closure invokers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read module: %w", err)
			}
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := runtime.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			info, err := rt.Inspect(ctx, binary)
			if err != nil {
				return err
			}
			printInfo(cmd.OutOrStdout(), filepath.Base(args[0]), info)
			return nil
		},
	}
}
