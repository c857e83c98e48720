package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-gfx-bridge/bundle"
	"github.com/wippyai/wasm-gfx-bridge/config"
	"github.com/wippyai/wasm-gfx-bridge/engine"
	"github.com/wippyai/wasm-gfx-bridge/gateway"
	"github.com/wippyai/wasm-gfx-bridge/runtime"
)

// session is one started module plus its optional gateway relay.
type session struct {
	rt        *runtime.Runtime
	inst      *runtime.Instance
	dev       *bundle.MemoryDevice
	relay     *gateway.Relay
	relayDone chan error
	cfg       *config.Config
}

// openSession loads binary and runs __start and the entry point.
func openSession(ctx context.Context, cfg *config.Config, logger *zap.Logger, binary []byte) (*session, error) {
	dev := bundle.NewMemoryDevice()
	rt, err := runtime.New(ctx, cfg, runtime.WithDevice(dev), runtime.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	inst, err := rt.Load(ctx, binary)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	if err := inst.Run(ctx, cfg.CanvasID, cfg.GatewayURL, cfg.HandoffToken); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return &session{rt: rt, inst: inst, dev: dev, cfg: cfg}, nil
}

// connect starts relaying gateway frames into the module as message events.
// It does nothing when no gateway is configured.
func (s *session) connect(ctx context.Context) error {
	if s.cfg.GatewayURL == "" {
		return nil
	}
	relay, err := gateway.Dial(ctx, s.cfg.GatewayURL, s.cfg.HandoffToken)
	if err != nil {
		return err
	}
	s.relay = relay
	s.relayDone = make(chan error, 1)
	go func() { s.relayDone <- relay.Run(ctx, s.inst) }()
	return nil
}

// wait blocks until the relay stops or ctx is done.
func (s *session) wait(ctx context.Context) error {
	if s.relay == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.relayDone:
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func (s *session) resize(ctx context.Context, width, height int) error {
	return s.inst.Dispatch(ctx, runtime.EventResize(int32(width), int32(height)))
}

func (s *session) received() int64 {
	if s.relay == nil {
		return 0
	}
	return s.relay.Received()
}

// replay runs every live bundle through a TracePass.
func (s *session) replay() ([]replayed, error) {
	var (
		out  []replayed
		pass bundle.TracePass
	)
	for _, h := range s.dev.Handles() {
		b, err := s.dev.Bundle(h)
		if err != nil {
			return nil, err
		}
		pass.Reset()
		if err := s.dev.Execute(&pass, h); err != nil {
			return nil, err
		}
		out = append(out, replayed{
			handle:   h,
			label:    b.Label(),
			commands: append([]bundle.Command(nil), pass.Commands()...),
		})
	}
	return out, nil
}

func (s *session) close(ctx context.Context) error {
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	errs = append(errs, s.rt.Close(ctx))
	return stderrors.Join(errs...)
}

type replayed struct {
	handle   bundle.DeviceHandle
	label    string
	commands []bundle.Command
}

func formatCommand(c bundle.Command) string {
	return fmt.Sprintf("%s %+v", c.Type(), c)
}

// terminalSize reports the size of the terminal on stdout.
func terminalSize() (width, height int, ok bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		return 0, 0, false
	}
	return width, height, true
}

// runBatch starts the module, prints what it recorded and, with a gateway,
// relays frames until interrupted.
func runBatch(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, name string, binary []byte) error {
	s, err := openSession(ctx, cfg, logger, binary)
	if err != nil {
		return err
	}
	defer s.close(context.WithoutCancel(ctx))

	if w, h, ok := terminalSize(); ok {
		if err := s.resize(ctx, w, h); err != nil {
			logger.Warn("initial resize", zap.Error(err))
		}
	}
	if err := s.connect(ctx); err != nil {
		return err
	}

	if err := printSession(out, name, s); err != nil {
		return err
	}
	if s.relay == nil {
		return nil
	}

	fmt.Fprintf(out, "\nrelaying %s, ctrl+c to stop\n", cfg.GatewayURL)
	err = s.wait(ctx)
	fmt.Fprintf(out, "relay stopped after %d frames\n", s.received())
	return err
}

func printSession(out io.Writer, name string, s *session) error {
	st := s.inst.Stats()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "module\t%s\n", name)
	fmt.Fprintf(tw, "instance\t%s\n", s.inst.ID())
	fmt.Fprintf(tw, "handles\t%d (closures %d, bundles %d)\n", st.Handles, st.Closures, st.Bundles)
	fmt.Fprintf(tw, "subscriptions\t%d\n", st.Subscriptions)
	fmt.Fprintf(tw, "arena\t%d live, %d/%d bytes\n", st.Arena.Live, st.Arena.InUse, st.Arena.Capacity)
	if err := tw.Flush(); err != nil {
		return err
	}

	bundles, err := s.replay()
	if err != nil {
		return err
	}
	for _, b := range bundles {
		fmt.Fprintf(out, "\nbundle %d %q, %d commands\n", b.handle, b.label, len(b.commands))
		for _, c := range b.commands {
			fmt.Fprintf(out, "  %s\n", formatCommand(c))
		}
	}
	return nil
}

func printInfo(out io.Writer, name string, info *engine.ModuleInfo) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Module: %s\n", name)

	fmt.Fprintf(tw, "\nImports:\n")
	for _, f := range info.Imports {
		fmt.Fprintf(tw, "  %s.%s\t%s\n", f.Module, f.Name, f.Signature())
	}

	fmt.Fprintf(tw, "\nExports:\n")
	for _, f := range info.Exports {
		fmt.Fprintf(tw, "  %s\t%s\n", f.Name, f.Signature())
	}
	memory := "none"
	switch {
	case info.Memory:
		memory = "exported"
	case info.ImportsMemory:
		memory = "imported"
	}
	fmt.Fprintf(tw, "  memory\t%s\n", memory)

	fmt.Fprintf(tw, "\nClosure invokers:\n")
	for _, tag := range info.Tags() {
		var notes []string
		if info.Destroyers[tag] {
			notes = append(notes, "destroyer")
		}
		fmt.Fprintf(tw, "  tag %d\t%s\t%s\n", tag, info.Invokers[tag], strings.Join(notes, ", "))
	}
	tw.Flush()
}
